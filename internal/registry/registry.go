// Package registry is the arena of live terminals. Every per-terminal
// sub-state (flow control, pending output, timers, activity detection) hangs
// off the Terminal record, so removing a terminal releases all of it at once.
// Scheduled work refers to terminals by ID and generation and looks them up
// again when it runs.
//
// A Registry is not safe for concurrent use; it belongs to the host's event
// loop.
package registry

import (
	"sort"

	"github.com/Iron-Ham/termhost/internal/errors"
)

// Registry tracks live terminals and the host-wide pending byte total.
type Registry struct {
	terminals    map[string]*Terminal
	nextGen      uint64
	pendingTotal int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{terminals: make(map[string]*Terminal)}
}

// Add registers t and assigns its generation.
func (r *Registry) Add(t *Terminal) error {
	if _, ok := r.terminals[t.ID]; ok {
		return errors.NewAlreadyExistsError("terminal", t.ID).WithCause(errors.ErrTerminalExists)
	}
	r.nextGen++
	t.Gen = r.nextGen
	t.removed = false
	r.terminals[t.ID] = t
	return nil
}

// Get returns the live terminal with id.
func (r *Registry) Get(id string) (*Terminal, bool) {
	t, ok := r.terminals[id]
	return t, ok
}

// Lookup returns the terminal with id only if it is still generation gen.
func (r *Registry) Lookup(id string, gen uint64) (*Terminal, bool) {
	t, ok := r.terminals[id]
	if !ok || t.Gen != gen {
		return nil, false
	}
	return t, true
}

// MustGet returns the terminal or a not-found error.
func (r *Registry) MustGet(id string) (*Terminal, error) {
	t, ok := r.terminals[id]
	if !ok {
		return nil, errors.NewNotFoundError("terminal", id).WithCause(errors.ErrTerminalNotFound)
	}
	return t, nil
}

// Remove unregisters the terminal and disposes of everything attached to it:
// pending output (and its share of the global total), the pause monitor, the
// trash timer and the activity tracker. The process is left to the caller.
func (r *Registry) Remove(id string) (*Terminal, bool) {
	t, ok := r.terminals[id]
	if !ok {
		return nil, false
	}
	delete(r.terminals, id)

	r.pendingTotal -= t.Stream.Pending.clear()
	t.Stream.StopMonitor()
	if t.TrashTimer != nil {
		t.TrashTimer.Stop()
		t.TrashTimer = nil
	}
	if t.Activity != nil {
		t.Activity.Dispose()
	}
	t.removed = true
	return t, true
}

// All returns live terminals ordered by creation time, then ID.
func (r *Registry) All() []*Terminal {
	out := make([]*Terminal, 0, len(r.terminals))
	for _, t := range r.terminals {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live terminals.
func (r *Registry) Len() int {
	return len(r.terminals)
}

// PendingTotal returns the pending bytes summed over all terminals.
func (r *Registry) PendingTotal() int {
	return r.pendingTotal
}

// Enqueue appends buf[offset:] to t's pending queue.
func (r *Registry) Enqueue(t *Terminal, buf []byte, offset int) {
	before := t.Stream.Pending.Bytes()
	t.Stream.Pending.push(buf, offset)
	r.pendingTotal += t.Stream.Pending.Bytes() - before
}

// Consume marks n bytes at the front of t's queue delivered. n must not
// exceed len(t.Stream.Pending.Front()).
func (r *Registry) Consume(t *Terminal, n int) {
	t.Stream.Pending.consume(n)
	r.pendingTotal -= n
}

// ClearPending drops t's whole queue and returns the number of bytes dropped.
func (r *Registry) ClearPending(t *Terminal) int {
	n := t.Stream.Pending.clear()
	r.pendingTotal -= n
	return n
}
