package activity

import "time"

// Config holds the state machine's timing and detection knobs.
type Config struct {
	// SilenceDebounce is how long a busy terminal must go without a working
	// signal before it is considered idle.
	SilenceDebounce time.Duration
	// RecoveryDelay is how long a working signal must be sustained before an
	// idle terminal becomes busy again. Zero recovers immediately.
	RecoveryDelay time.Duration
	// RecoveryGap resets a sustained-signal run when no signal arrives for
	// this long.
	RecoveryGap time.Duration
	// InputEchoWindow is how long after a keystroke output is treated as
	// possible echo rather than work.
	InputEchoWindow time.Duration
	// CompletedHold is how long the completed state lasts before reverting
	// to idle.
	CompletedHold time.Duration
	// ResizeSuppression disables output-based recovery after a resize.
	ResizeSuppression time.Duration
	// SleepGap is the output gap after which a busy state is re-validated.
	SleepGap time.Duration
	// BootGrace ignores output-only signals right after spawn until the
	// first submitted input.
	BootGrace time.Duration

	VolumeWindow        time.Duration
	VolumeThreshold     float64 // bytes per second
	HighOutputThreshold float64 // bytes per second
	RewriteWindow       time.Duration
	RewriteCount        int
	WindowSize          int

	IgnoreInputs       []string
	WorkingPatterns    []string
	CompletionPatterns []string
	PromptPatterns     []string
}

// DefaultConfig returns the default knobs with no patterns. Use WithProfile
// to fill the pattern lists for a kind of terminal.
func DefaultConfig() Config {
	return Config{
		SilenceDebounce:     2500 * time.Millisecond,
		RecoveryDelay:       1500 * time.Millisecond,
		RecoveryGap:         time.Second,
		InputEchoWindow:     time.Second,
		CompletedHold:       500 * time.Millisecond,
		ResizeSuppression:   time.Second,
		SleepGap:            5 * time.Second,
		BootGrace:           2 * time.Second,
		VolumeWindow:        time.Second,
		VolumeThreshold:     2048,
		HighOutputThreshold: 16384,
		RewriteWindow:       time.Second,
		RewriteCount:        4,
		WindowSize:          4096,
	}
}

// WithProfile returns a copy of c with every empty pattern list taken from p.
func (c Config) WithProfile(p Profile) Config {
	if len(c.IgnoreInputs) == 0 {
		c.IgnoreInputs = p.IgnoreInputs
	}
	if len(c.WorkingPatterns) == 0 {
		c.WorkingPatterns = p.WorkingPatterns
	}
	if len(c.CompletionPatterns) == 0 {
		c.CompletionPatterns = p.CompletionPatterns
	}
	if len(c.PromptPatterns) == 0 {
		c.PromptPatterns = p.PromptPatterns
	}
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SilenceDebounce <= 0 {
		c.SilenceDebounce = d.SilenceDebounce
	}
	if c.RecoveryGap <= 0 {
		c.RecoveryGap = d.RecoveryGap
	}
	if c.CompletedHold <= 0 {
		c.CompletedHold = d.CompletedHold
	}
	if c.SleepGap <= 0 {
		c.SleepGap = d.SleepGap
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = d.VolumeWindow
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = d.VolumeThreshold
	}
	if c.HighOutputThreshold <= 0 {
		c.HighOutputThreshold = d.HighOutputThreshold
	}
	if c.RewriteWindow <= 0 {
		c.RewriteWindow = d.RewriteWindow
	}
	if c.RewriteCount <= 0 {
		c.RewriteCount = d.RewriteCount
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	return c
}
