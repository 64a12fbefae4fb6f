package testutil

import (
	"sync"

	"github.com/Iron-Ham/termhost/internal/event"
)

// Recorder captures every event published on a bus.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

// NewRecorder subscribes a Recorder to bus.
func NewRecorder(bus *event.Bus) *Recorder {
	r := &Recorder{}
	bus.SubscribeAll(r.record)
	return r
}

// Publish records e directly. It lets a Recorder stand in for a bus.
func (r *Recorder) Publish(e event.Event) {
	r.record(e)
}

func (r *Recorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns everything recorded so far.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of the type were recorded.
func (r *Recorder) Count(eventType string) int {
	return len(r.OfType(eventType))
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Mailbox collects posted closures so a test can run them on its own
// goroutine, standing in for the host's event loop.
type Mailbox struct {
	mu     sync.Mutex
	queued []func()
}

// Post queues f. It always succeeds.
func (m *Mailbox) Post(f func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, f)
	return true
}

// Drain runs queued closures, including ones queued while draining, and
// returns how many ran.
func (m *Mailbox) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queued) == 0 {
			m.mu.Unlock()
			return n
		}
		f := m.queued[0]
		m.queued = m.queued[1:]
		m.mu.Unlock()
		f()
		n++
	}
}
