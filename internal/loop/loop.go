// Package loop provides the single goroutine that owns all mutable terminal
// state in the host. PTY readers, timers and protocol carriers never touch
// that state directly; they Post closures to the loop, which runs them one at
// a time.
package loop

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Iron-Ham/termhost/internal/logging"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running if it has not started.
	// It reports whether the call stopped the timer.
	Stop() bool
}

// Clock supplies time and timers. Callbacks scheduled through a Clock run on
// the goroutine that owns the state they touch.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// PanicHandler receives panics recovered from posted closures.
type PanicHandler func(recovered any, stack []byte)

// Loop runs posted closures sequentially on one goroutine.
// It implements Clock: timer callbacks are posted to the loop rather than run
// on the runtime's timer goroutine.
type Loop struct {
	mailbox chan func()
	done    chan struct{}
	once    sync.Once
	logger  *logging.Logger
	onPanic PanicHandler
}

// Option configures a Loop.
type Option func(*Loop)

// WithPanicHandler sets the handler invoked for recovered panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(l *Loop) { l.onPanic = h }
}

// WithLogger sets the loop's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop whose mailbox holds up to size pending closures.
// Posting to a full mailbox blocks, which throttles producers such as PTY
// readers.
func New(size int, opts ...Option) *Loop {
	if size <= 0 {
		size = 1024
	}
	l := &Loop{
		mailbox: make(chan func(), size),
		done:    make(chan struct{}),
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes posted closures until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case f := <-l.mailbox:
			l.exec(f)
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			l.logger.Error("recovered panic in event loop", "panic", r)
			if l.onPanic != nil {
				l.onPanic(r, stack)
			}
		}
	}()
	f()
}

// Post queues f to run on the loop. It returns false if the loop has shut
// down, in which case f never runs.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.mailbox <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Do(f func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Closures still in the mailbox are discarded.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Now returns the wall clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f to be posted to the loop after d.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { l.Post(f) })
}
