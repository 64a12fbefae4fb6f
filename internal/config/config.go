package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/termhost/internal/activity"
	"github.com/Iron-Ham/termhost/internal/flow"
	"github.com/Iron-Ham/termhost/internal/governor"
	"github.com/Iron-Ham/termhost/internal/host"
	"github.com/Iron-Ham/termhost/internal/logging"
)

// Config represents the complete termhost configuration
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Flow      FlowConfig      `mapstructure:"flow"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Activity  ActivityConfig  `mapstructure:"activity"`
	Host      HostConfig      `mapstructure:"host"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// TransportConfig sizes the shared-memory rings created by "buffers create".
// The host itself attaches whatever buffers the UI hands it.
type TransportConfig struct {
	// ShardCount is the number of visual output rings
	ShardCount int `mapstructure:"shard_count"`
	// ShardSize is the data capacity of each ring in bytes
	ShardSize int `mapstructure:"shard_size"`
	// AnalysisSize is the capacity of the analysis ring (0 = none)
	AnalysisSize int `mapstructure:"analysis_size"`
	// MaxPacketPayload bounds the payload of each framed packet
	MaxPacketPayload int `mapstructure:"max_packet_payload"`
	// ShmDir is where ring files are created
	ShmDir string `mapstructure:"shm_dir"`
}

// FlowConfig controls backpressure on terminal output
type FlowConfig struct {
	// ResumeThreshold is the shard utilization percentage below which a
	// paused terminal resumes
	ResumeThreshold float64 `mapstructure:"resume_threshold"`
	// MonitorInterval is how often a paused terminal is re-checked
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	// MaxPause is the longest a terminal stays paused before a forced resume
	MaxPause time.Duration `mapstructure:"max_pause"`
	// StallSuspendAfter is how long a pause lasts before an eligible
	// terminal's visual stream is suspended
	StallSuspendAfter time.Duration `mapstructure:"stall_suspend_after"`
	// StallSuspendActive makes active terminals eligible for suspension
	StallSuspendActive bool `mapstructure:"stall_suspend_active"`
	// TerminalPendingCap bounds queued bytes per terminal
	TerminalPendingCap int `mapstructure:"terminal_pending_cap"`
	// GlobalPendingCap bounds queued bytes across all terminals
	GlobalPendingCap int `mapstructure:"global_pending_cap"`
	// FallbackMaxQueued bounds unacknowledged bytes on the fallback channel
	FallbackMaxQueued int `mapstructure:"fallback_max_queued"`
	// FallbackHighWatermark pauses a terminal at this percentage of FallbackMaxQueued
	FallbackHighWatermark float64 `mapstructure:"fallback_high_watermark"`
	// FallbackResumeWatermark resumes it below this percentage
	FallbackResumeWatermark float64 `mapstructure:"fallback_resume_watermark"`
}

// GovernorConfig controls the host-wide memory throttle
type GovernorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval is how often heap usage is sampled
	Interval time.Duration `mapstructure:"interval"`
	// HighWatermark engages the throttle above this heap utilization percentage
	HighWatermark float64 `mapstructure:"high_watermark"`
	// LowWatermark releases it below this percentage
	LowWatermark float64 `mapstructure:"low_watermark"`
	// MaxEngaged releases the throttle after this long regardless of usage
	MaxEngaged time.Duration `mapstructure:"max_engaged"`
	// MaxHeapBytes is the heap budget (0 = runtime memory limit or physical memory)
	MaxHeapBytes uint64 `mapstructure:"max_heap_bytes"`
}

// ActivityConfig controls busy/idle detection
type ActivityConfig struct {
	SilenceDebounce     time.Duration `mapstructure:"silence_debounce"`
	RecoveryDelay       time.Duration `mapstructure:"recovery_delay"`
	RecoveryGap         time.Duration `mapstructure:"recovery_gap"`
	InputEchoWindow     time.Duration `mapstructure:"input_echo_window"`
	CompletedHold       time.Duration `mapstructure:"completed_hold"`
	ResizeSuppression   time.Duration `mapstructure:"resize_suppression"`
	SleepGap            time.Duration `mapstructure:"sleep_gap"`
	BootGrace           time.Duration `mapstructure:"boot_grace"`
	VolumeWindow        time.Duration `mapstructure:"volume_window"`
	VolumeThreshold     float64       `mapstructure:"volume_threshold"`
	HighOutputThreshold float64       `mapstructure:"high_output_threshold"`
	RewriteWindow       time.Duration `mapstructure:"rewrite_window"`
	RewriteCount        int           `mapstructure:"rewrite_count"`
	WindowSize          int           `mapstructure:"window_size"`

	// Pattern lists replace the built-in profile's when non-empty
	IgnoreInputs       []string `mapstructure:"ignore_inputs"`
	WorkingPatterns    []string `mapstructure:"working_patterns"`
	CompletionPatterns []string `mapstructure:"completion_patterns"`
	PromptPatterns     []string `mapstructure:"prompt_patterns"`
}

// HostConfig controls request handling
type HostConfig struct {
	// ResumeStagger spaces out process resumes after system wake
	ResumeStagger time.Duration `mapstructure:"resume_stagger"`
	// TrashTTL is how long a trashed terminal lives before it is killed
	TrashTTL time.Duration `mapstructure:"trash_ttl"`
	// SnapshotLines is the number of output lines in a snapshot
	SnapshotLines int `mapstructure:"snapshot_lines"`
	// CaptureBufferSize is the per-terminal output kept for snapshots
	CaptureBufferSize int `mapstructure:"capture_buffer_size"`
	// ReliabilityMetrics publishes an event for every flow-control action
	ReliabilityMetrics bool `mapstructure:"reliability_metrics"`
	// DefaultShell runs when a spawn request names no program ("" = $SHELL)
	DefaultShell string `mapstructure:"default_shell"`
	// MailboxSize bounds the event loop's queue
	MailboxSize int `mapstructure:"mailbox_size"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where the log and crash files go ("" = StateDir())
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics ("" = disabled)
	Addr string `mapstructure:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	fd := flow.DefaultConfig()
	gd := governor.DefaultConfig()
	ad := activity.DefaultConfig()
	hd := host.DefaultConfig()
	return &Config{
		Transport: TransportConfig{
			ShardCount:       4,
			ShardSize:        4 << 20,
			AnalysisSize:     1 << 20,
			MaxPacketPayload: fd.MaxPacketPayload,
			ShmDir:           "/dev/shm",
		},
		Flow: FlowConfig{
			ResumeThreshold:         fd.ResumeThreshold,
			MonitorInterval:         fd.MonitorInterval,
			MaxPause:                fd.MaxPause,
			StallSuspendAfter:       fd.StallSuspendAfter,
			StallSuspendActive:      fd.StallSuspendActive,
			TerminalPendingCap:      fd.TerminalPendingCap,
			GlobalPendingCap:        fd.GlobalPendingCap,
			FallbackMaxQueued:       fd.FallbackMaxQueued,
			FallbackHighWatermark:   fd.FallbackHighWatermark,
			FallbackResumeWatermark: fd.FallbackResumeWatermark,
		},
		Governor: GovernorConfig{
			Enabled:       true,
			Interval:      gd.Interval,
			HighWatermark: gd.HighWatermark,
			LowWatermark:  gd.LowWatermark,
			MaxEngaged:    gd.MaxEngaged,
			MaxHeapBytes:  gd.MaxHeapBytes,
		},
		Activity: ActivityConfig{
			SilenceDebounce:     ad.SilenceDebounce,
			RecoveryDelay:       ad.RecoveryDelay,
			RecoveryGap:         ad.RecoveryGap,
			InputEchoWindow:     ad.InputEchoWindow,
			CompletedHold:       ad.CompletedHold,
			ResizeSuppression:   ad.ResizeSuppression,
			SleepGap:            ad.SleepGap,
			BootGrace:           ad.BootGrace,
			VolumeWindow:        ad.VolumeWindow,
			VolumeThreshold:     ad.VolumeThreshold,
			HighOutputThreshold: ad.HighOutputThreshold,
			RewriteWindow:       ad.RewriteWindow,
			RewriteCount:        ad.RewriteCount,
			WindowSize:          ad.WindowSize,
			IgnoreInputs:        []string{},
			WorkingPatterns:     []string{},
			CompletionPatterns:  []string{},
			PromptPatterns:      []string{},
		},
		Host: HostConfig{
			ResumeStagger:      hd.ResumeStagger,
			TrashTTL:           hd.TrashTTL,
			SnapshotLines:      hd.SnapshotLines,
			CaptureBufferSize:  hd.CaptureBufferSize,
			ReliabilityMetrics: false,
			DefaultShell:       "",
			MailboxSize:        hd.MailboxSize,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Transport defaults
	viper.SetDefault("transport.shard_count", defaults.Transport.ShardCount)
	viper.SetDefault("transport.shard_size", defaults.Transport.ShardSize)
	viper.SetDefault("transport.analysis_size", defaults.Transport.AnalysisSize)
	viper.SetDefault("transport.max_packet_payload", defaults.Transport.MaxPacketPayload)
	viper.SetDefault("transport.shm_dir", defaults.Transport.ShmDir)

	// Flow defaults
	viper.SetDefault("flow.resume_threshold", defaults.Flow.ResumeThreshold)
	viper.SetDefault("flow.monitor_interval", defaults.Flow.MonitorInterval)
	viper.SetDefault("flow.max_pause", defaults.Flow.MaxPause)
	viper.SetDefault("flow.stall_suspend_after", defaults.Flow.StallSuspendAfter)
	viper.SetDefault("flow.stall_suspend_active", defaults.Flow.StallSuspendActive)
	viper.SetDefault("flow.terminal_pending_cap", defaults.Flow.TerminalPendingCap)
	viper.SetDefault("flow.global_pending_cap", defaults.Flow.GlobalPendingCap)
	viper.SetDefault("flow.fallback_max_queued", defaults.Flow.FallbackMaxQueued)
	viper.SetDefault("flow.fallback_high_watermark", defaults.Flow.FallbackHighWatermark)
	viper.SetDefault("flow.fallback_resume_watermark", defaults.Flow.FallbackResumeWatermark)

	// Governor defaults
	viper.SetDefault("governor.enabled", defaults.Governor.Enabled)
	viper.SetDefault("governor.interval", defaults.Governor.Interval)
	viper.SetDefault("governor.high_watermark", defaults.Governor.HighWatermark)
	viper.SetDefault("governor.low_watermark", defaults.Governor.LowWatermark)
	viper.SetDefault("governor.max_engaged", defaults.Governor.MaxEngaged)
	viper.SetDefault("governor.max_heap_bytes", defaults.Governor.MaxHeapBytes)

	// Activity defaults
	viper.SetDefault("activity.silence_debounce", defaults.Activity.SilenceDebounce)
	viper.SetDefault("activity.recovery_delay", defaults.Activity.RecoveryDelay)
	viper.SetDefault("activity.recovery_gap", defaults.Activity.RecoveryGap)
	viper.SetDefault("activity.input_echo_window", defaults.Activity.InputEchoWindow)
	viper.SetDefault("activity.completed_hold", defaults.Activity.CompletedHold)
	viper.SetDefault("activity.resize_suppression", defaults.Activity.ResizeSuppression)
	viper.SetDefault("activity.sleep_gap", defaults.Activity.SleepGap)
	viper.SetDefault("activity.boot_grace", defaults.Activity.BootGrace)
	viper.SetDefault("activity.volume_window", defaults.Activity.VolumeWindow)
	viper.SetDefault("activity.volume_threshold", defaults.Activity.VolumeThreshold)
	viper.SetDefault("activity.high_output_threshold", defaults.Activity.HighOutputThreshold)
	viper.SetDefault("activity.rewrite_window", defaults.Activity.RewriteWindow)
	viper.SetDefault("activity.rewrite_count", defaults.Activity.RewriteCount)
	viper.SetDefault("activity.window_size", defaults.Activity.WindowSize)
	viper.SetDefault("activity.ignore_inputs", defaults.Activity.IgnoreInputs)
	viper.SetDefault("activity.working_patterns", defaults.Activity.WorkingPatterns)
	viper.SetDefault("activity.completion_patterns", defaults.Activity.CompletionPatterns)
	viper.SetDefault("activity.prompt_patterns", defaults.Activity.PromptPatterns)

	// Host defaults
	viper.SetDefault("host.resume_stagger", defaults.Host.ResumeStagger)
	viper.SetDefault("host.trash_ttl", defaults.Host.TrashTTL)
	viper.SetDefault("host.snapshot_lines", defaults.Host.SnapshotLines)
	viper.SetDefault("host.capture_buffer_size", defaults.Host.CaptureBufferSize)
	viper.SetDefault("host.reliability_metrics", defaults.Host.ReliabilityMetrics)
	viper.SetDefault("host.default_shell", defaults.Host.DefaultShell)
	viper.SetDefault("host.mailbox_size", defaults.Host.MailboxSize)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Metrics defaults
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "termhost")
	}
	// Fall back to ~/.config/termhost
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termhost"
	}
	return filepath.Join(home, ".config", "termhost")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateDir returns the directory for logs and the crash log
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "termhost")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termhost"
	}
	return filepath.Join(home, ".local", "state", "termhost")
}

// LogDir returns the configured log directory, or StateDir() when unset
func (c *LoggingConfig) LogDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return StateDir()
}

// Rotation returns the log rotation settings
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	r := logging.DefaultRotationConfig()
	r.MaxSizeMB = c.MaxSizeMB
	r.MaxBackups = c.MaxBackups
	return r
}

// FlowConfig converts to the flow controller's configuration
func (c *Config) FlowConfig() flow.Config {
	return flow.Config{
		MaxPacketPayload:        c.Transport.MaxPacketPayload,
		ResumeThreshold:         c.Flow.ResumeThreshold,
		MonitorInterval:         c.Flow.MonitorInterval,
		MaxPause:                c.Flow.MaxPause,
		StallSuspendAfter:       c.Flow.StallSuspendAfter,
		StallSuspendActive:      c.Flow.StallSuspendActive,
		TerminalPendingCap:      c.Flow.TerminalPendingCap,
		GlobalPendingCap:        c.Flow.GlobalPendingCap,
		FallbackMaxQueued:       c.Flow.FallbackMaxQueued,
		FallbackHighWatermark:   c.Flow.FallbackHighWatermark,
		FallbackResumeWatermark: c.Flow.FallbackResumeWatermark,
		ReliabilityEvents:       c.Host.ReliabilityMetrics,
	}
}

// GovernorConfig converts to the resource governor's configuration
func (c *Config) GovernorConfig() governor.Config {
	return governor.Config{
		Interval:      c.Governor.Interval,
		HighWatermark: c.Governor.HighWatermark,
		LowWatermark:  c.Governor.LowWatermark,
		MaxEngaged:    c.Governor.MaxEngaged,
		MaxHeapBytes:  c.Governor.MaxHeapBytes,
	}
}

// ActivityConfig converts to the activity state machine's configuration
func (c *Config) ActivityConfig() activity.Config {
	a := c.Activity
	return activity.Config{
		SilenceDebounce:     a.SilenceDebounce,
		RecoveryDelay:       a.RecoveryDelay,
		RecoveryGap:         a.RecoveryGap,
		InputEchoWindow:     a.InputEchoWindow,
		CompletedHold:       a.CompletedHold,
		ResizeSuppression:   a.ResizeSuppression,
		SleepGap:            a.SleepGap,
		BootGrace:           a.BootGrace,
		VolumeWindow:        a.VolumeWindow,
		VolumeThreshold:     a.VolumeThreshold,
		HighOutputThreshold: a.HighOutputThreshold,
		RewriteWindow:       a.RewriteWindow,
		RewriteCount:        a.RewriteCount,
		WindowSize:          a.WindowSize,
		IgnoreInputs:        a.IgnoreInputs,
		WorkingPatterns:     a.WorkingPatterns,
		CompletionPatterns:  a.CompletionPatterns,
		PromptPatterns:      a.PromptPatterns,
	}
}

// HostConfig converts to the host's configuration, subsystems included
func (c *Config) HostConfig() host.Config {
	shell := c.Host.DefaultShell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	return host.Config{
		Flow:               c.FlowConfig(),
		Governor:           c.GovernorConfig(),
		GovernorEnabled:    c.Governor.Enabled,
		Activity:           c.ActivityConfig(),
		ResumeStagger:      c.Host.ResumeStagger,
		TrashTTL:           c.Host.TrashTTL,
		SnapshotLines:      c.Host.SnapshotLines,
		CaptureBufferSize:  c.Host.CaptureBufferSize,
		ReliabilityMetrics: c.Host.ReliabilityMetrics,
		DefaultShell:       shell,
		MailboxSize:        c.Host.MailboxSize,
	}
}
