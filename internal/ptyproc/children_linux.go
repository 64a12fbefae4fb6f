//go:build linux

package ptyproc

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HasActiveChildren reports whether the program has child processes, which
// for a shell means a command is running.
func (p *Process) HasActiveChildren() (bool, error) {
	return hasChildren("/proc", p.Pid())
}

func hasChildren(procRoot string, pid int) (bool, error) {
	id := strconv.Itoa(pid)
	data, err := os.ReadFile(filepath.Join(procRoot, id, "task", id, "children"))
	if err == nil {
		return strings.TrimSpace(string(data)) != "", nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	// Kernels without CONFIG_PROC_CHILDREN: scan every process's parent.
	return scanParents(procRoot, pid)
}

func scanParents(procRoot string, pid int) (bool, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		stat, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "stat"))
		if err != nil {
			continue
		}
		if ppid, ok := parentFromStat(string(stat)); ok && ppid == pid {
			return true, nil
		}
	}
	return false, nil
}

// parentFromStat extracts the ppid field from /proc/<pid>/stat. The command
// name may contain spaces and parentheses, so fields are counted from the
// last ')'.
func parentFromStat(stat string) (int, bool) {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 {
		return 0, false
	}
	fields := strings.Fields(stat[i+1:])
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	return ppid, err == nil
}
