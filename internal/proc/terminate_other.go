//go:build !unix && !windows

package proc

import (
	"errors"
	"os"
	"os/exec"
	"slices"
)

func defaultShell() []string {
	return []string{"/bin/sh", "-c"}
}

func shellCommand(shell []string, command string) *exec.Cmd {
	args := append(slices.Clone(shell[1:]), command)
	return exec.Command(shell[0], args...)
}

type processTerminator struct{}

// NewTerminator kills only the direct child: there are no process groups
// on this platform.
func NewTerminator() Terminator {
	return processTerminator{}
}

func (processTerminator) Terminate(pid int, _ bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	err = p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
