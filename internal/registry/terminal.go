package registry

import (
	"time"

	"github.com/Iron-Ham/termhost/internal/loop"
)

// ActivityTracker is the per-terminal activity detector attached at spawn.
type ActivityTracker interface {
	Disposer
	OnInput(data string)
	OnOutput(data []byte)
	OnResize()
	State() string
}

// OutputBuffer keeps recent output for snapshots.
type OutputBuffer interface {
	Write(p []byte) (int, error)
	Lines(n int) []string
}

// Stream is the flow-control state of a terminal's visual output.
type Stream struct {
	State    FlowState
	PausedAt time.Time
	Pending  PendingQueue

	// Monitor is the running pause monitor, if any. MonitorSeq is bumped
	// every time a monitor is started or cancelled; a firing monitor whose
	// sequence no longer matches does nothing.
	Monitor    loop.Timer
	MonitorSeq uint64

	// FallbackQueued counts bytes sent over the fallback channel and not
	// yet acknowledged by the UI.
	FallbackQueued int

	lastStatus FlowState
	statusSent bool
}

// StatusChanged records s as the last published status and reports whether
// it differs from the previous one.
func (s *Stream) StatusChanged(status FlowState) bool {
	if s.statusSent && s.lastStatus == status {
		return false
	}
	s.statusSent = true
	s.lastStatus = status
	return true
}

// StopMonitor cancels the pause monitor and invalidates any callback already
// queued for it.
func (s *Stream) StopMonitor() {
	if s.Monitor != nil {
		s.Monitor.Stop()
		s.Monitor = nil
	}
	s.MonitorSeq++
}

// Terminal is the registry record for one spawned process. All fields are
// owned by the host's event loop.
type Terminal struct {
	ID        string
	ProjectID string
	Kind      Kind
	Tier      Tier
	CreatedAt time.Time
	Process   Process

	// Gen distinguishes this record from an earlier terminal that used the
	// same ID. Callbacks capture it at scheduling time.
	Gen uint64

	// SkipVisual drops output from the visual stream entirely.
	SkipVisual bool
	// Analysis mirrors output to the secondary analysis ring.
	Analysis bool

	LastInputAt  time.Time
	LastOutputAt time.Time

	// TrashSeq is bumped by every trash and restore so that an expiry
	// callback already queued on the loop can tell it is stale.
	Trashed     bool
	TrashExpiry time.Time
	TrashTimer  loop.Timer
	TrashSeq    uint64

	// ExitReason is reported in the exit event when the host ended the
	// process itself.
	ExitReason string

	Stream   Stream
	Activity ActivityTracker
	Output   OutputBuffer

	pauseReasons PauseReason
	removed      bool
}

// Pause adds reason to the terminal's pause reasons. The process itself is
// paused only when this is the first reason. It reports whether the process
// was paused by this call.
func (t *Terminal) Pause(reason PauseReason) (bool, error) {
	if t.pauseReasons&reason != 0 {
		return false, nil
	}
	first := t.pauseReasons == 0
	t.pauseReasons |= reason
	if !first || t.Process == nil {
		return false, nil
	}
	return true, t.Process.Pause()
}

// Resume clears reason. The process is resumed only when no reason remains.
// It reports whether the process was resumed by this call.
func (t *Terminal) Resume(reason PauseReason) (bool, error) {
	if t.pauseReasons&reason == 0 {
		return false, nil
	}
	t.pauseReasons &^= reason
	if t.pauseReasons != 0 || t.Process == nil {
		return false, nil
	}
	return true, t.Process.Resume()
}

// PausedBy reports whether reason is currently set.
func (t *Terminal) PausedBy(reason PauseReason) bool {
	return t.pauseReasons&reason != 0
}

// Paused reports whether any pause reason is set.
func (t *Terminal) Paused() bool {
	return t.pauseReasons != 0
}

// PauseReasons returns the set of active pause reasons.
func (t *Terminal) PauseReasons() PauseReason {
	return t.pauseReasons
}

// Removed reports whether the terminal has been removed from its registry.
func (t *Terminal) Removed() bool {
	return t.removed
}
