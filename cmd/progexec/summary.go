package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/autocoder/progexec/internal/model"

	"github.com/fatih/color"
)

// summaryUploader prints a table of a report for humans.
type summaryUploader struct {
	w io.Writer
}

var statusColor = map[model.Status]*color.Color{
	model.StatusFinished: color.New(color.FgGreen),
	model.StatusTimeout:  color.New(color.FgYellow),
	model.StatusAborted:  color.New(color.FgRed),
	model.StatusPending:  color.New(color.FgHiBlack),
}

func (u summaryUploader) Upload(_ context.Context, report model.Report) error {
	tw := tabwriter.NewWriter(u.w, 0, 4, 2, ' ', 0)
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(tw, "NAME\tSTATUS\tCODE\tTIME\tSTDOUT\n")
	for _, r := range report.Results {
		status := string(r.Status)
		if c, ok := statusColor[r.Status]; ok {
			status = c.Sprint(status)
		}
		code := fmt.Sprint(r.ExitCode)
		if r.ExitCode != 0 {
			code = color.RedString(code)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.2fs\t%s\n",
			r.Name, status, code, model.Seconds(r.Elapsed), lastLine(r.Stdout))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := report.Counts()
	_, err := fmt.Fprintf(u.w, "\n%d programs: %d finished, %d timeout, %d aborted\n",
		len(report.Results),
		counts[model.StatusFinished],
		counts[model.StatusTimeout],
		counts[model.StatusAborted],
	)
	return err
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	const width = 60
	if r := []rune(s); len(r) > width {
		s = string(r[:width-3]) + "..."
	}
	return s
}
