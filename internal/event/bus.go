package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles an event.
type Handler func(Event)

// PanicReporter receives handler panics recovered by the bus.
type PanicReporter func(eventType string, recovered any, stack []byte)

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a simple synchronous pub-sub event bus.
// Handlers run on the publishing goroutine, in registration order.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	onPanic       PanicReporter
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithPanicReporter routes recovered handler panics to fn.
func WithPanicReporter(fn PanicReporter) BusOption {
	return func(b *Bus) { b.onPanic = fn }
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subscriptions: make(map[string][]subscription)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				b.subscriptions[eventType] = append(next, subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Specific handlers are called first, followed by wildcard handlers.
// A panicking handler is recovered and reported; delivery continues.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	specific := b.subscriptions[e.EventType()]
	wildcard := b.subscriptions["*"]
	b.mu.RUnlock()

	// Subscribe and Unsubscribe never mutate a published slice in place.
	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(e.EventType(), r, debug.Stack())
		}
	}()
	handler(e)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
