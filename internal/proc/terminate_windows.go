//go:build windows

package proc

import (
	"bytes"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

func defaultShell() []string {
	return []string{"cmd", "/C"}
}

// shellCommand passes the command line to cmd.exe untouched: the usual
// argument escaping of os/exec does not match cmd's parser.
func shellCommand(shell []string, command string) *exec.Cmd {
	cmd := exec.Command(shell[0])
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       strings.Join(append(slices.Clone(shell), command), " "),
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
	return cmd
}

type treeTerminator struct{}

// NewTerminator returns a Terminator running taskkill /T on the process
// tree, adding /F when forced.
func NewTerminator() Terminator {
	return treeTerminator{}
}

func (treeTerminator) Terminate(pid int, force bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	out, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill %d: %w: %s", pid, err, bytes.TrimSpace(out))
	}
	return nil
}
