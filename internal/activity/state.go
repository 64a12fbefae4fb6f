package activity

// State is a terminal's activity state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateCompleted
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateBusy:
		return "busy"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Trigger is what caused a transition.
type Trigger int

const (
	TriggerInput Trigger = iota
	TriggerPattern
	TriggerVolume
	TriggerRewrite
	TriggerCompletion
	TriggerHoldExpired
	TriggerSilence
	TriggerSleepRevalidate
)

// String returns the wire name of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerInput:
		return "input"
	case TriggerPattern:
		return "pattern"
	case TriggerVolume:
		return "volume"
	case TriggerRewrite:
		return "rewrite"
	case TriggerCompletion:
		return "completion"
	case TriggerHoldExpired:
		return "hold-expired"
	case TriggerSilence:
		return "silence"
	case TriggerSleepRevalidate:
		return "sleep-revalidate"
	default:
		return "unknown"
	}
}
