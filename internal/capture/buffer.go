// Package capture keeps the recent output of each terminal so that snapshots
// and prompt checks can look at what is on screen without asking the UI.
package capture

import (
	"strings"
	"sync"

	"github.com/Iron-Ham/termhost/internal/activity"
)

// RingBuffer is a fixed-size circular buffer holding the most recent output
// bytes. When full, new data overwrites the oldest.
//
//	Write "abc": [a, b, c, _, _]  start=0, end=3
//	Write "de":  [a, b, c, d, e]  start=0, end=0, full
//	Write "fg":  [f, g, c, d, e]  start=2, end=2 → Bytes() returns "cdefg"
//
// All methods are safe for concurrent use; snapshots may be taken from a
// goroutine other than the one writing output.
type RingBuffer struct {
	mu    sync.RWMutex
	data  []byte
	start int
	end   int
	full  bool
}

// NewRingBuffer creates a buffer retaining the last size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write appends p, discarding the oldest bytes as needed. It never fails.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	size := len(r.data)
	if n >= size {
		copy(r.data, p[n-size:])
		r.start, r.end, r.full = 0, 0, true
		return n, nil
	}

	free := size - r.len()
	first := copy(r.data[r.end:], p)
	copy(r.data, p[first:])
	r.end = (r.end + n) % size
	if n >= free {
		r.full = true
		r.start = r.end
	}
	return n, nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, 0, r.len())
	if r.full || r.end < r.start {
		out = append(out, r.data[r.start:]...)
		return append(out, r.data[:r.end]...)
	}
	return append(out, r.data[r.start:r.end]...)
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

// len must be called with r.mu held.
func (r *RingBuffer) len() int {
	switch {
	case r.full:
		return len(r.data)
	case r.end >= r.start:
		return r.end - r.start
	default:
		return len(r.data) - r.start + r.end
	}
}

// Reset discards all buffered data.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.end, r.full = 0, 0, false
}

// Lines returns up to the last n lines of buffered output as they would
// appear on screen: escape sequences removed and carriage-return rewrites
// collapsed to their final text. The first line is dropped if the buffer has
// wrapped, since it is likely partial. A trailing empty line is kept so a
// prompt on the cursor line stays last.
func (r *RingBuffer) Lines(n int) []string {
	if n <= 0 {
		return nil
	}
	r.mu.RLock()
	wrapped := r.full
	r.mu.RUnlock()

	text := activity.StripANSI(string(r.Bytes()))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if wrapped && len(lines) > 1 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, line := range lines {
		if j := strings.LastIndexByte(line, '\r'); j >= 0 {
			lines[i] = line[j+1:]
		}
	}
	return lines
}
