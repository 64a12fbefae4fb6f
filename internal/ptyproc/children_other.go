//go:build !linux

package ptyproc

import (
	stderrors "errors"
	"os/exec"
	"strconv"
)

// HasActiveChildren reports whether the program has child processes, which
// for a shell means a command is running.
func (p *Process) HasActiveChildren() (bool, error) {
	err := exec.Command("pgrep", "-P", strconv.Itoa(p.Pid())).Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case stderrors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	default:
		return false, err
	}
}
