package activity

import (
	"bytes"
	"time"
)

// scanOverlap is how much of the previous output is rescanned with each new
// chunk so patterns split across reads still match.
const scanOverlap = 64

// outputWindow keeps the most recent output bytes.
type outputWindow struct {
	buf  []byte
	size int
}

// append adds data and returns the text to scan: data plus the overlap of
// what preceded it.
func (w *outputWindow) append(data []byte) []byte {
	start := max(0, len(w.buf)-scanOverlap)
	w.buf = append(w.buf, data...)
	scan := w.buf[start:]
	if over := len(w.buf) - w.size; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
		if len(scan) > len(w.buf) {
			scan = w.buf
		} else {
			scan = w.buf[len(w.buf)-len(scan):]
		}
	}
	return scan
}

// rateWindow measures byte throughput over a sliding window.
type rateWindow struct {
	window  time.Duration
	samples []rateSample
	total   int
}

type rateSample struct {
	at time.Time
	n  int
}

func (r *rateWindow) add(now time.Time, n int) {
	r.prune(now)
	r.samples = append(r.samples, rateSample{at: now, n: n})
	r.total += n
}

// rate returns bytes per second over the window ending at now.
func (r *rateWindow) rate(now time.Time) float64 {
	r.prune(now)
	return float64(r.total) / r.window.Seconds()
}

func (r *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.samples) && !r.samples[i].at.After(cutoff) {
		r.total -= r.samples[i].n
		i++
	}
	r.samples = r.samples[i:]
}

// rewriteTracker counts in-place line rewrites: bare carriage returns and
// erase-line sequences, the way spinners and progress bars redraw.
type rewriteTracker struct {
	window time.Duration
	count  int
	events []time.Time
}

var eraseLine = [][]byte{[]byte("\x1b[K"), []byte("\x1b[0K"), []byte("\x1b[1K"), []byte("\x1b[2K")}

// observe records the rewrites in data and reports whether the count within
// the window reached the threshold.
func (t *rewriteTracker) observe(now time.Time, data []byte) bool {
	n := countRewrites(data)
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.events) && !t.events[i].After(cutoff) {
		i++
	}
	t.events = t.events[i:]
	for ; n > 0; n-- {
		t.events = append(t.events, now)
	}
	return len(t.events) >= t.count
}

func (t *rewriteTracker) reset() {
	t.events = t.events[:0]
}

func countRewrites(data []byte) int {
	n := 0
	for i, c := range data {
		if c == '\r' && (i+1 >= len(data) || data[i+1] != '\n') {
			n++
		}
	}
	for _, seq := range eraseLine {
		n += bytes.Count(data, seq)
	}
	return n
}
