// Package host ties the terminal host together. It decodes host messages,
// spawns and tracks terminals in the registry, pumps PTY output through flow
// control and activity detection, runs the resource governor and publishes
// every outcome on an event bus that protocol carriers encode for the UI.
//
// All terminal state belongs to one event loop. PTY readers and carriers
// hand work to it with Post; timers scheduled through its clock run on it.
//
// # Messages
//
// Requests are JSON objects tagged by "type": spawn, write, resize, kill,
// trash, restore, set-activity-tier, acknowledge-data, init-buffers,
// get-snapshot, get-all-snapshots, pause-all, resume-all and wake-stream.
// A request that fails produces an "error" event and nothing else; no
// request can stop the host.
package host
