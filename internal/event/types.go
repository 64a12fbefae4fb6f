// Package event defines the events the terminal host publishes. Subsystems
// (flow control, the resource governor, activity detection, the request
// dispatcher) publish to a shared Bus; protocol carriers subscribe and encode
// events for the UI process.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "terminal.exit", "host.throttled")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTerminalPID         = "terminal.pid"
	TypeTerminalData        = "terminal.data"
	TypeTerminalExit        = "terminal.exit"
	TypeTerminalStatus      = "terminal.status"
	TypeTerminalActivity    = "terminal.activity"
	TypeTerminalReliability = "terminal.reliability"
	TypeTerminalSnapshot    = "terminal.snapshot"
	TypeTerminalSnapshots   = "terminal.snapshots"
	TypeHostError           = "host.error"
	TypeHostThrottled       = "host.throttled"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Terminal Lifecycle Events
// -----------------------------------------------------------------------------

// TerminalPIDEvent is emitted once a spawned terminal's process is running.
type TerminalPIDEvent struct {
	baseEvent
	TerminalID string
	PID        int
}

// NewTerminalPIDEvent creates a TerminalPIDEvent.
func NewTerminalPIDEvent(terminalID string, pid int) TerminalPIDEvent {
	return TerminalPIDEvent{baseEvent: newBaseEvent(TypeTerminalPID), TerminalID: terminalID, PID: pid}
}

// TerminalDataEvent carries output over the fallback channel. Data is owned
// by the event; handlers must not retain it past the call without copying.
type TerminalDataEvent struct {
	baseEvent
	TerminalID string
	Data       []byte
}

// NewTerminalDataEvent creates a TerminalDataEvent.
func NewTerminalDataEvent(terminalID string, data []byte) TerminalDataEvent {
	return TerminalDataEvent{baseEvent: newBaseEvent(TypeTerminalData), TerminalID: terminalID, Data: data}
}

// TerminalExitEvent is emitted exactly once when a terminal goes away,
// whether its process exited or it was killed.
type TerminalExitEvent struct {
	baseEvent
	TerminalID string
	ExitCode   int
	Reason     string // "exit", "killed", "trash-expired", "spawn-failed"
}

// NewTerminalExitEvent creates a TerminalExitEvent.
func NewTerminalExitEvent(terminalID string, exitCode int, reason string) TerminalExitEvent {
	return TerminalExitEvent{
		baseEvent:  newBaseEvent(TypeTerminalExit),
		TerminalID: terminalID,
		ExitCode:   exitCode,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Flow Events
// -----------------------------------------------------------------------------

// TerminalStatusEvent reports a change of a terminal's visual stream state:
// "running", "paused" or "suspended". Consecutive duplicates are never
// published.
type TerminalStatusEvent struct {
	baseEvent
	TerminalID string
	Status     string
	Reason     string
}

// NewTerminalStatusEvent creates a TerminalStatusEvent.
func NewTerminalStatusEvent(terminalID, status, reason string) TerminalStatusEvent {
	return TerminalStatusEvent{
		baseEvent:  newBaseEvent(TypeTerminalStatus),
		TerminalID: terminalID,
		Status:     status,
		Reason:     reason,
	}
}

// ReliabilityMetricEvent describes one flow-control action with the
// measurements taken when it happened.
type ReliabilityMetricEvent struct {
	baseEvent
	TerminalID   string
	Metric       string // "pause", "resume", "force-resume", "suspend", "wake", "drop"
	Path         string // "ring" or "fallback"
	Duration     time.Duration
	Utilization  float64
	PendingBytes int
	Shard        int
}

// NewReliabilityMetricEvent creates a ReliabilityMetricEvent.
func NewReliabilityMetricEvent(terminalID, metric, path string) ReliabilityMetricEvent {
	return ReliabilityMetricEvent{
		baseEvent:  newBaseEvent(TypeTerminalReliability),
		TerminalID: terminalID,
		Metric:     metric,
		Path:       path,
		Shard:      -1,
	}
}

// HostThrottledEvent is emitted when the resource governor engages or
// releases. Duration is set on release.
type HostThrottledEvent struct {
	baseEvent
	Throttled   bool
	Utilization float64
	Duration    time.Duration
}

// NewHostThrottledEvent creates a HostThrottledEvent.
func NewHostThrottledEvent(throttled bool, utilization float64, duration time.Duration) HostThrottledEvent {
	return HostThrottledEvent{
		baseEvent:   newBaseEvent(TypeHostThrottled),
		Throttled:   throttled,
		Utilization: utilization,
		Duration:    duration,
	}
}

// -----------------------------------------------------------------------------
// Activity Events
// -----------------------------------------------------------------------------

// ActivityEvent reports a busy/idle/completed transition.
type ActivityEvent struct {
	baseEvent
	TerminalID string
	State      string
	Previous   string
	Trigger    string
	Confidence float64
}

// NewActivityEvent creates an ActivityEvent.
func NewActivityEvent(terminalID, previous, state, trigger string, confidence float64) ActivityEvent {
	return ActivityEvent{
		baseEvent:  newBaseEvent(TypeTerminalActivity),
		TerminalID: terminalID,
		State:      state,
		Previous:   previous,
		Trigger:    trigger,
		Confidence: confidence,
	}
}

// -----------------------------------------------------------------------------
// Snapshot Events
// -----------------------------------------------------------------------------

// TerminalSnapshot is a point-in-time view of one terminal.
type TerminalSnapshot struct {
	TerminalID   string    `json:"id"`
	ProjectID    string    `json:"projectId,omitempty"`
	Kind         string    `json:"kind"`
	PID          int       `json:"pid"`
	Tier         string    `json:"tier"`
	Activity     string    `json:"activity"`
	Stream       string    `json:"stream"`
	Trashed      bool      `json:"trashed,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastInputAt  time.Time `json:"lastInputAt,omitzero"`
	LastOutputAt time.Time `json:"lastOutputAt,omitzero"`
	Lines        []string  `json:"lines"`
}

// SnapshotEvent answers a get-snapshot request.
type SnapshotEvent struct {
	baseEvent
	RequestID string
	Snapshot  TerminalSnapshot
}

// NewSnapshotEvent creates a SnapshotEvent.
func NewSnapshotEvent(requestID string, snap TerminalSnapshot) SnapshotEvent {
	return SnapshotEvent{baseEvent: newBaseEvent(TypeTerminalSnapshot), RequestID: requestID, Snapshot: snap}
}

// SnapshotsEvent answers a get-all-snapshots request.
type SnapshotsEvent struct {
	baseEvent
	RequestID string
	Snapshots []TerminalSnapshot
}

// NewSnapshotsEvent creates a SnapshotsEvent.
func NewSnapshotsEvent(requestID string, snaps []TerminalSnapshot) SnapshotsEvent {
	return SnapshotsEvent{baseEvent: newBaseEvent(TypeTerminalSnapshots), RequestID: requestID, Snapshots: snaps}
}

// -----------------------------------------------------------------------------
// Error Events
// -----------------------------------------------------------------------------

// HostErrorEvent reports a non-fatal failure handling a request or managing a
// terminal. TerminalID is empty for host-wide errors.
type HostErrorEvent struct {
	baseEvent
	TerminalID  string
	RequestType string
	Code        string
	Message     string
	// Retryable marks transient failures the UI may simply repeat.
	Retryable bool
	// UserFacing marks messages that are safe to show to the user.
	UserFacing bool
}

// NewHostErrorEvent creates a HostErrorEvent.
func NewHostErrorEvent(terminalID, requestType, code, message string) HostErrorEvent {
	return HostErrorEvent{
		baseEvent:   newBaseEvent(TypeHostError),
		TerminalID:  terminalID,
		RequestType: requestType,
		Code:        code,
		Message:     message,
	}
}
