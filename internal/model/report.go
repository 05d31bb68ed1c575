package model

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Report is the serialized outcome of one batch.
type Report struct {
	ID       string            `json:"id" yaml:"id"`
	Started  time.Time         `json:"started" yaml:"started"`
	Finished time.Time         `json:"finished" yaml:"finished"`
	Results  []ExecutionResult `json:"results" yaml:"results"`
}

// NewReport orders results by name so reports are stable across runs.
func NewReport(id string, started, finished time.Time, results map[string]ExecutionResult) Report {
	list := make([]ExecutionResult, 0, len(results))
	for _, r := range results {
		list = append(list, r)
	}
	slices.SortFunc(list, func(a, b ExecutionResult) int {
		return strings.Compare(a.Name, b.Name)
	})
	return Report{
		ID:       id,
		Started:  started.UTC(),
		Finished: finished.UTC(),
		Results:  list,
	}
}

// Counts returns the number of results per status.
func (r Report) Counts() map[Status]int {
	ret := make(map[Status]int, 4)
	for _, res := range r.Results {
		ret[res.Status]++
	}
	return ret
}

// DecodeReport reads a report encoded as JSON.
func DecodeReport(r io.Reader) (Report, error) {
	var ret Report
	if err := json.NewDecoder(r).Decode(&ret); err != nil {
		return Report{}, fmt.Errorf("decoding report: %w", err)
	}
	return ret, nil
}

// Encode writes the report in the given format (json or yaml).
func (r Report) Encode(w io.Writer, format string) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
