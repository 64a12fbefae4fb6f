package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/gofrs/flock"
)

// CrashFileName is the name of the durable crash record inside the state directory.
const CrashFileName = "crash.log"

// CrashLog appends panic records to a file that survives process restarts.
// Appends are serialized across processes with an advisory file lock so two
// hosts sharing a state directory never interleave records.
type CrashLog struct {
	path string
	lock *flock.Flock
}

// NewCrashLog returns a CrashLog writing to {dir}/crash.log.
func NewCrashLog(dir string) *CrashLog {
	path := filepath.Join(dir, CrashFileName)
	return &CrashLog{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the crash log location.
func (c *CrashLog) Path() string {
	return c.path
}

// Record appends a crash entry for the recovered value. When stack is nil
// the current goroutine's stack is captured.
func (c *CrashLog) Record(where string, recovered any, stack []byte) error {
	if stack == nil {
		stack = debug.Stack()
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create crash log directory: %w", err)
	}
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock crash log: %w", err)
	}
	defer c.lock.Unlock()

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open crash log: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "=== %s pid=%d where=%s\npanic: %v\n%s\n",
		time.Now().UTC().Format(time.RFC3339Nano), os.Getpid(), where, recovered, stack)
	if err != nil {
		return fmt.Errorf("failed to write crash log: %w", err)
	}
	return f.Sync()
}
