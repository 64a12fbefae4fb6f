package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rotation.
	// A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns the rotation settings used by `termhost serve`.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an io.WriteCloser over a file that is rotated by size.
// Rotated files are named path.1 (newest) to path.N (oldest).
// It is safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path       string
	maxSize    int64
	maxBackups int
	compress   bool

	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		maxSize:    int64(cfg.MaxSizeMB) << 20,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = file
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if rw.maxSize > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
	}
	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate must be called with rw.mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()
	if rw.maxBackups > 0 {
		first := rw.backupPath(1)
		if err := os.Rename(rw.path, first); err != nil {
			if openErr := rw.open(); openErr != nil {
				return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
			}
			return fmt.Errorf("failed to rename log file: %w", err)
		}
		if rw.compress {
			if err := gzipFile(first); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to compress %s: %v\n", first, err)
			}
		}
	} else {
		os.Remove(rw.path)
	}
	return rw.open()
}

func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		return
	}
	oldest := rw.backupPath(rw.maxBackups)
	os.Remove(oldest)
	os.Remove(oldest + ".gz")
	for i := rw.maxBackups - 1; i >= 1; i-- {
		from, to := rw.backupPath(i), rw.backupPath(i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			os.Rename(from+".gz", to+".gz")
		} else if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
}

func (rw *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Close syncs and closes the current file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// Size returns the current size of the active log file in bytes.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}
