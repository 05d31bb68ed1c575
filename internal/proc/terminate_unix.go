//go:build unix

package proc

import (
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"syscall"

	"golang.org/x/sys/unix"
)

func defaultShell() []string {
	return []string{"/bin/sh", "-c"}
}

// shellCommand starts the child as the leader of a new process group, so
// the group id equals its pid and everything it forks can be signalled at
// once.
func shellCommand(shell []string, command string) *exec.Cmd {
	args := append(slices.Clone(shell[1:]), command)
	cmd := exec.Command(shell[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

type groupTerminator struct{}

// NewTerminator returns a Terminator signalling the process group led by
// pid: SIGTERM first, SIGKILL when forced.
func NewTerminator() Terminator {
	return groupTerminator{}
}

func (groupTerminator) Terminate(pid int, force bool) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("kill process group %d (%s): %w", pid, unix.SignalName(sig), err)
	}
	return nil
}
