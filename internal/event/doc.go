// Package event provides a pub-sub event bus for decoupled communication
// inside the terminal host.
//
// Flow control, the resource governor and activity detection publish events
// without knowing which carrier (stdio, websocket) forwards them to the UI
// process. Carriers subscribe with [Bus.SubscribeAll] and encode each event
// into a host message.
//
// # Event Categories
//
// Terminal lifecycle:
//   - [TerminalPIDEvent], [TerminalExitEvent]
//
// Output and flow control:
//   - [TerminalDataEvent]: fallback-channel output
//   - [TerminalStatusEvent]: running / paused / suspended
//   - [ReliabilityMetricEvent]: per-action pause/resume/suspend measurements
//   - [HostThrottledEvent]: resource governor engaged or released
//
// Activity:
//   - [ActivityEvent]: busy / idle / completed transitions
//
// Requests:
//   - [SnapshotEvent], [SnapshotsEvent], [HostErrorEvent]
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine; in the host that is the event loop, so handlers must
// not block.
package event
