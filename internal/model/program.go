package model

import (
	"encoding/json"
	"math"
	"time"
)

// Status is the lifecycle state of an ExecutionResult.
type Status string

const (
	StatusPending  Status = "pending"
	StatusFinished Status = "finished"
	StatusTimeout  Status = "timeout"
	StatusAborted  Status = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusTimeout, StatusAborted:
		return true
	default:
		return false
	}
}

// ActionExecute tags serialized results, so the receiving side can tell
// program executions apart from other operation feedback.
const ActionExecute = "execute"

// ProgramRequest describes one program of a batch. Name must be unique
// within the batch. Command is handed verbatim to the host shell.
type ProgramRequest struct {
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Timeout time.Duration `json:"timeout"`
}

// ExecutionResult is the outcome of one ProgramRequest.
type ExecutionResult struct {
	Name     string
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	ExitCode int
	Status   Status
	Timeout  bool
	PID      int
}

// PendingResult is the placeholder stored for a request before its Runner
// reports back.
func PendingResult(name string) ExecutionResult {
	return ExecutionResult{
		Name:     name,
		ExitCode: -1,
		Status:   StatusPending,
	}
}

type executionResultJSON struct {
	Name     string  `json:"name"`
	Status   Status  `json:"status"`
	Action   string  `json:"action"`
	ExecTime float64 `json:"exec_time"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	ExitCode int     `json:"returncode"`
	Timeout  bool    `json:"timeout"`
	PID      int     `json:"pid,omitempty"`
}

func (r ExecutionResult) wire() executionResultJSON {
	return executionResultJSON{
		Name:     r.Name,
		Status:   r.Status,
		Action:   ActionExecute,
		ExecTime: Seconds(r.Elapsed),
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		ExitCode: r.ExitCode,
		Timeout:  r.Timeout,
		PID:      r.PID,
	}
}

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

func (r *ExecutionResult) UnmarshalJSON(b []byte) error {
	var w executionResultJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = ExecutionResult{
		Name:     w.Name,
		Stdout:   w.Stdout,
		Stderr:   w.Stderr,
		Elapsed:  time.Duration(math.Round(w.ExecTime * float64(time.Second))),
		ExitCode: w.ExitCode,
		Status:   w.Status,
		Timeout:  w.Timeout,
		PID:      w.PID,
	}
	return nil
}

// MarshalYAML uses the same field names as the JSON form.
func (r ExecutionResult) MarshalYAML() (any, error) {
	w := r.wire()
	return map[string]any{
		"name":       w.Name,
		"status":     string(w.Status),
		"action":     w.Action,
		"exec_time":  w.ExecTime,
		"stdout":     w.Stdout,
		"stderr":     w.Stderr,
		"returncode": w.ExitCode,
		"timeout":    w.Timeout,
		"pid":        w.PID,
	}, nil
}

// Seconds converts d to seconds rounded to two decimal places.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
