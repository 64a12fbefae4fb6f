package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/termhost/internal/activity"
	"github.com/Iron-Ham/termhost/internal/transport"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "flow.max_pause")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTransport()...)
	errors = append(errors, c.validateFlow()...)
	errors = append(errors, c.validateGovernor()...)
	errors = append(errors, c.validateActivity()...)
	errors = append(errors, c.validateHost()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func positive[T int | float64 | time.Duration](field string, v T) []ValidationError {
	if v > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
}

func percentage(field string, v float64) []ValidationError {
	if v > 0 && v <= 100 {
		return nil
	}
	return []ValidationError{{Field: field, Value: v, Message: "must be between 0 and 100"}}
}

func (c *Config) validateTransport() []ValidationError {
	var errors []ValidationError
	t := c.Transport

	// Every ring must hold at least one full-size packet
	minRing := transport.FramedSize(transport.MaxIDLen, transport.MaxPayload)

	errors = append(errors, positive("transport.shard_count", t.ShardCount)...)
	if t.ShardSize < minRing {
		errors = append(errors, ValidationError{
			Field:   "transport.shard_size",
			Value:   t.ShardSize,
			Message: fmt.Sprintf("must be at least %d bytes", minRing),
		})
	}
	if t.AnalysisSize != 0 && t.AnalysisSize < minRing {
		errors = append(errors, ValidationError{
			Field:   "transport.analysis_size",
			Value:   t.AnalysisSize,
			Message: fmt.Sprintf("must be 0 or at least %d bytes", minRing),
		})
	}
	if t.MaxPacketPayload <= 0 || t.MaxPacketPayload > transport.MaxPayload {
		errors = append(errors, ValidationError{
			Field:   "transport.max_packet_payload",
			Value:   t.MaxPacketPayload,
			Message: fmt.Sprintf("must be between 1 and %d", transport.MaxPayload),
		})
	}
	if t.ShmDir == "" {
		errors = append(errors, ValidationError{
			Field:   "transport.shm_dir",
			Value:   t.ShmDir,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateFlow() []ValidationError {
	var errors []ValidationError
	f := c.Flow

	errors = append(errors, percentage("flow.resume_threshold", f.ResumeThreshold)...)
	errors = append(errors, positive("flow.monitor_interval", f.MonitorInterval)...)
	errors = append(errors, positive("flow.max_pause", f.MaxPause)...)
	errors = append(errors, positive("flow.stall_suspend_after", f.StallSuspendAfter)...)
	errors = append(errors, positive("flow.terminal_pending_cap", f.TerminalPendingCap)...)
	errors = append(errors, positive("flow.global_pending_cap", f.GlobalPendingCap)...)
	errors = append(errors, positive("flow.fallback_max_queued", f.FallbackMaxQueued)...)
	errors = append(errors, percentage("flow.fallback_high_watermark", f.FallbackHighWatermark)...)
	errors = append(errors, percentage("flow.fallback_resume_watermark", f.FallbackResumeWatermark)...)

	if f.MonitorInterval > 0 && f.MaxPause > 0 && f.MonitorInterval > f.MaxPause {
		errors = append(errors, ValidationError{
			Field:   "flow.monitor_interval",
			Value:   f.MonitorInterval,
			Message: "must not exceed flow.max_pause",
		})
	}

	// A single terminal must not be able to exceed the global budget
	if f.TerminalPendingCap > f.GlobalPendingCap {
		errors = append(errors, ValidationError{
			Field:   "flow.terminal_pending_cap",
			Value:   f.TerminalPendingCap,
			Message: "must not exceed flow.global_pending_cap",
		})
	}

	if f.FallbackResumeWatermark >= f.FallbackHighWatermark {
		errors = append(errors, ValidationError{
			Field:   "flow.fallback_resume_watermark",
			Value:   f.FallbackResumeWatermark,
			Message: "must be less than flow.fallback_high_watermark",
		})
	}

	return errors
}

func (c *Config) validateGovernor() []ValidationError {
	if !c.Governor.Enabled {
		return nil
	}

	var errors []ValidationError
	g := c.Governor

	errors = append(errors, positive("governor.interval", g.Interval)...)
	errors = append(errors, positive("governor.max_engaged", g.MaxEngaged)...)
	errors = append(errors, percentage("governor.high_watermark", g.HighWatermark)...)
	errors = append(errors, percentage("governor.low_watermark", g.LowWatermark)...)

	if g.LowWatermark >= g.HighWatermark {
		errors = append(errors, ValidationError{
			Field:   "governor.low_watermark",
			Value:   g.LowWatermark,
			Message: "must be less than governor.high_watermark",
		})
	}

	return errors
}

func (c *Config) validateActivity() []ValidationError {
	var errors []ValidationError
	a := c.Activity

	errors = append(errors, positive("activity.silence_debounce", a.SilenceDebounce)...)
	errors = append(errors, positive("activity.completed_hold", a.CompletedHold)...)
	errors = append(errors, positive("activity.volume_window", a.VolumeWindow)...)
	errors = append(errors, positive("activity.window_size", a.WindowSize)...)

	// Zero recovers immediately
	if a.RecoveryDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "activity.recovery_delay",
			Value:   a.RecoveryDelay,
			Message: "must be non-negative",
		})
	}

	if a.HighOutputThreshold < a.VolumeThreshold {
		errors = append(errors, ValidationError{
			Field:   "activity.high_output_threshold",
			Value:   a.HighOutputThreshold,
			Message: "must not be less than activity.volume_threshold",
		})
	}

	patterns := []struct {
		field string
		list  []string
	}{
		{"activity.working_patterns", a.WorkingPatterns},
		{"activity.completion_patterns", a.CompletionPatterns},
		{"activity.prompt_patterns", a.PromptPatterns},
	}
	for _, p := range patterns {
		if err := activity.ValidatePatterns(p.list); err != nil {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.list,
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateHost() []ValidationError {
	var errors []ValidationError
	h := c.Host

	errors = append(errors, positive("host.trash_ttl", h.TrashTTL)...)
	errors = append(errors, positive("host.snapshot_lines", h.SnapshotLines)...)
	errors = append(errors, positive("host.capture_buffer_size", h.CaptureBufferSize)...)
	errors = append(errors, positive("host.mailbox_size", h.MailboxSize)...)

	if h.ResumeStagger < 0 {
		errors = append(errors, ValidationError{
			Field:   "host.resume_stagger",
			Value:   h.ResumeStagger,
			Message: "must be non-negative",
		})
	}

	if h.DefaultShell != "" {
		if _, err := os.Stat(h.DefaultShell); err != nil {
			errors = append(errors, ValidationError{
				Field:   "host.default_shell",
				Value:   h.DefaultShell,
				Message: "file does not exist",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
