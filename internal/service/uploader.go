package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/autocoder/progexec/internal/model"

	"github.com/klauspost/compress/zstd"
)

// WriteUploader encodes reports to a writer, stdout by default.
type WriteUploader struct {
	w      io.Writer
	format string
}

func NewWriteUploader(w io.Writer, format string) WriteUploader {
	return WriteUploader{w: w, format: format}
}

func (u WriteUploader) Upload(_ context.Context, report model.Report) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	return report.Encode(u.w, u.format)
}

// OSRootUploader stores every report as a new file inside a directory.
type OSRootUploader struct {
	root     *os.Root
	format   string
	compress string
}

func NewOSRootUploader(path, format, compress string) (*OSRootUploader, error) {
	switch compress {
	case "", model.CompressNone, model.CompressZstd:
	default:
		return nil, fmt.Errorf("unsupported compression: %s", compress)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &OSRootUploader{root: root, format: format, compress: compress}, nil
}

// FileName returns the name a report is stored under.
func (u *OSRootUploader) FileName(report model.Report) string {
	ext := u.format
	if ext == "" {
		ext = model.FormatJSON
	}
	name := "progexec-" + stamp(report.Finished).Format("2006-01-02-15-04-05") + "-" + shortID(report.ID) + "." + ext
	if u.compress == model.CompressZstd {
		name += ".zst"
	}
	return name
}

func (u *OSRootUploader) Upload(ctx context.Context, report model.Report) error {
	if u.root == nil {
		return errors.New("root already closed")
	}

	path := u.FileName(report)
	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	err = u.write(f, report)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving report: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	slog.InfoContext(ctx, "report saved", "path", path)
	return nil
}

func (u *OSRootUploader) write(w io.Writer, report model.Report) error {
	if u.compress != model.CompressZstd {
		return report.Encode(w, u.format)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := report.Encode(enc, u.format); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func (u *OSRootUploader) Close() error {
	if u.root == nil {
		return errors.New("uploader already closed")
	}
	err := u.root.Close()
	u.root = nil
	return err
}

// ReadReport decodes a file written by OSRootUploader with the json format.
func ReadReport(r io.Reader, compressed bool) (model.Report, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return model.Report{}, err
		}
		defer dec.Close()
		r = dec
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return model.Report{}, err
	}
	return model.DecodeReport(bytes.NewReader(raw))
}

func encodeJSON(report model.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := report.Encode(&buf, model.FormatJSON); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// stamp is used when a report has no finish time yet.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
