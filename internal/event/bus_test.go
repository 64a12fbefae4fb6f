package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe(TypeTerminalExit, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
	if called {
		t.Error("handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeTerminalExit, func(e Event) {
		received = e
	})
	bus.Subscribe(TypeHostThrottled, func(e Event) {
		t.Error("handler for another type should not be called")
	})

	bus.Publish(NewTerminalExitEvent("t1", 0, "exit"))

	exit, ok := received.(TerminalExitEvent)
	if !ok {
		t.Fatalf("received %T, want TerminalExitEvent", received)
	}
	if exit.TerminalID != "t1" || exit.Reason != "exit" {
		t.Errorf("got %+v", exit)
	}
}

func TestBus_OrderSpecificBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "all") })
	bus.Subscribe(TypeTerminalStatus, func(e Event) { order = append(order, "first") })
	bus.Subscribe(TypeTerminalStatus, func(e Event) { order = append(order, "second") })

	bus.Publish(NewTerminalStatusEvent("t1", "paused", "backpressure"))

	want := []string{"first", "second", "all"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TypeTerminalData, func(e Event) { count++ })
	bus.Subscribe(TypeTerminalData, func(e Event) { count++ })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}

	bus.Publish(NewTerminalDataEvent("t1", []byte("x")))
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	var reported string
	bus := NewBus(WithPanicReporter(func(eventType string, recovered any, stack []byte) {
		reported = eventType
	}))

	delivered := false
	bus.Subscribe(TypeHostError, func(e Event) { panic("boom") })
	bus.Subscribe(TypeHostError, func(e Event) { delivered = true })

	bus.Publish(NewHostErrorEvent("", "spawn", "internal", "x"))

	if !delivered {
		t.Error("delivery should continue after a handler panics")
	}
	if reported != TypeHostError {
		t.Errorf("reported = %q, want %q", reported, TypeHostError)
	}
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewHostThrottledEvent(true, 85, 0))
			}
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("count = %d, want 1000", count)
	}
}

func TestEventConstructors(t *testing.T) {
	before := time.Now()
	tests := []struct {
		name string
		e    Event
		want string
	}{
		{"pid", NewTerminalPIDEvent("t", 42), TypeTerminalPID},
		{"data", NewTerminalDataEvent("t", nil), TypeTerminalData},
		{"exit", NewTerminalExitEvent("t", 1, "killed"), TypeTerminalExit},
		{"status", NewTerminalStatusEvent("t", "running", ""), TypeTerminalStatus},
		{"reliability", NewReliabilityMetricEvent("t", "pause", "ring"), TypeTerminalReliability},
		{"throttled", NewHostThrottledEvent(false, 50, time.Second), TypeHostThrottled},
		{"activity", NewActivityEvent("t", "idle", "busy", "input", 1), TypeTerminalActivity},
		{"snapshot", NewSnapshotEvent("r", TerminalSnapshot{}), TypeTerminalSnapshot},
		{"snapshots", NewSnapshotsEvent("r", nil), TypeTerminalSnapshots},
		{"error", NewHostErrorEvent("t", "write", "internal", "x"), TypeHostError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.e.EventType() != tt.want {
				t.Errorf("EventType() = %q, want %q", tt.e.EventType(), tt.want)
			}
			if tt.e.Timestamp().Before(before) {
				t.Error("timestamp precedes construction")
			}
		})
	}

	if m := NewReliabilityMetricEvent("t", "pause", "ring"); m.Shard != -1 {
		t.Errorf("default Shard = %d, want -1", m.Shard)
	}
}
