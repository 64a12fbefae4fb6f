package registry

import "fmt"

// Kind distinguishes plain shells from AI coding agents.
type Kind int

const (
	KindShell Kind = iota
	KindAgent
)

func (k Kind) String() string {
	if k == KindAgent {
		return "agent"
	}
	return "shell"
}

// ParseKind parses "shell" or "agent". Empty means shell.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "shell":
		return KindShell, nil
	case "agent":
		return KindAgent, nil
	default:
		return KindShell, fmt.Errorf("unknown terminal kind %q", s)
	}
}

// Tier is the UI's interest in a terminal's output.
type Tier int

const (
	TierActive Tier = iota
	TierBackground
)

func (t Tier) String() string {
	if t == TierBackground {
		return "background"
	}
	return "active"
}

// ParseTier parses "active" or "background".
func ParseTier(s string) (Tier, error) {
	switch s {
	case "active":
		return TierActive, nil
	case "background":
		return TierBackground, nil
	default:
		return TierActive, fmt.Errorf("unknown activity tier %q", s)
	}
}

// FlowState is the state of a terminal's visual output stream.
type FlowState int

const (
	FlowRunning FlowState = iota
	FlowPaused
	FlowSuspended
)

// String returns the wire name of the state.
func (s FlowState) String() string {
	switch s {
	case FlowPaused:
		return "paused"
	case FlowSuspended:
		return "suspended"
	default:
		return "running"
	}
}

// PauseReason is one independent cause for pausing a terminal's process.
// A process stays paused while any reason is set.
type PauseReason uint8

const (
	ReasonBackpressure PauseReason = 1 << iota
	ReasonGovernor
	ReasonSystemSleep
)

func (r PauseReason) String() string {
	switch r {
	case ReasonBackpressure:
		return "backpressure"
	case ReasonGovernor:
		return "governor"
	case ReasonSystemSleep:
		return "system-sleep"
	default:
		return fmt.Sprintf("reasons(%#x)", uint8(r))
	}
}

// Process is the subset of a terminal process the registry and its users
// drive.
type Process interface {
	Pid() int
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	// Pause stops the host from consuming the process's output so that the
	// process eventually blocks writing to its terminal.
	Pause() error
	Resume() error
	Kill(signal string) error
}

// Disposer is implemented by per-terminal attachments (activity machines,
// snapshot buffers) that hold timers or other resources.
type Disposer interface {
	Dispose()
}
