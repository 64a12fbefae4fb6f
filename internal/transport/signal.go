package transport

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"
)

// signalSize is the size of a shared signal region.
const signalSize = 64

// Signal is the producer-to-consumer wake-up: an atomic sequence counter the
// consumer can poll across processes, plus an in-process channel so a local
// waiter does not have to poll. Notifications coalesce: many Notify calls
// between two waits wake the waiter once.
type Signal struct {
	seq   *atomic.Uint64
	wake  chan struct{}
	unmap func() error
}

// NewSignal returns a heap-backed signal.
func NewSignal() *Signal {
	return &Signal{seq: new(atomic.Uint64), wake: make(chan struct{}, 1)}
}

func attachSignal(mem []byte) *Signal {
	return &Signal{
		seq:  (*atomic.Uint64)(unsafe.Pointer(&mem[0])),
		wake: make(chan struct{}, 1),
	}
}

// Notify advances the counter and wakes a local waiter.
func (s *Signal) Notify() {
	s.seq.Add(1)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Seq returns the current counter value.
func (s *Signal) Seq() uint64 {
	return s.seq.Load()
}

// Wait blocks until the counter differs from last and returns the new value.
// Remote producers cannot use the channel, so the counter is also polled
// every poll interval.
func (s *Signal) Wait(ctx context.Context, last uint64, poll time.Duration) (uint64, error) {
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if cur := s.seq.Load(); cur != last {
			return cur, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// Close releases the shared mapping, if any.
func (s *Signal) Close() error {
	if s.unmap == nil {
		return nil
	}
	err := s.unmap()
	s.unmap = nil
	return err
}
