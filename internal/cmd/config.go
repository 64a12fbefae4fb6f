package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/termhost/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View termhost configuration",
	Long: `View termhost configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/termhost/config.yaml with the most common options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "transport:")
	fmt.Fprintf(out, "  shard_count: %d\n", cfg.Transport.ShardCount)
	fmt.Fprintf(out, "  shard_size: %d\n", cfg.Transport.ShardSize)
	fmt.Fprintf(out, "  analysis_size: %d\n", cfg.Transport.AnalysisSize)
	fmt.Fprintf(out, "  max_packet_payload: %d\n", cfg.Transport.MaxPacketPayload)
	fmt.Fprintf(out, "  shm_dir: %s\n", cfg.Transport.ShmDir)

	fmt.Fprintln(out, "flow:")
	fmt.Fprintf(out, "  resume_threshold: %v\n", cfg.Flow.ResumeThreshold)
	fmt.Fprintf(out, "  monitor_interval: %s\n", cfg.Flow.MonitorInterval)
	fmt.Fprintf(out, "  max_pause: %s\n", cfg.Flow.MaxPause)
	fmt.Fprintf(out, "  stall_suspend_after: %s\n", cfg.Flow.StallSuspendAfter)
	fmt.Fprintf(out, "  stall_suspend_active: %v\n", cfg.Flow.StallSuspendActive)
	fmt.Fprintf(out, "  terminal_pending_cap: %d\n", cfg.Flow.TerminalPendingCap)
	fmt.Fprintf(out, "  global_pending_cap: %d\n", cfg.Flow.GlobalPendingCap)
	fmt.Fprintf(out, "  fallback_max_queued: %d\n", cfg.Flow.FallbackMaxQueued)
	fmt.Fprintf(out, "  fallback_high_watermark: %v\n", cfg.Flow.FallbackHighWatermark)
	fmt.Fprintf(out, "  fallback_resume_watermark: %v\n", cfg.Flow.FallbackResumeWatermark)

	fmt.Fprintln(out, "governor:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Governor.Enabled)
	fmt.Fprintf(out, "  interval: %s\n", cfg.Governor.Interval)
	fmt.Fprintf(out, "  high_watermark: %v\n", cfg.Governor.HighWatermark)
	fmt.Fprintf(out, "  low_watermark: %v\n", cfg.Governor.LowWatermark)
	fmt.Fprintf(out, "  max_engaged: %s\n", cfg.Governor.MaxEngaged)
	fmt.Fprintf(out, "  max_heap_bytes: %d\n", cfg.Governor.MaxHeapBytes)

	fmt.Fprintln(out, "activity:")
	fmt.Fprintf(out, "  silence_debounce: %s\n", cfg.Activity.SilenceDebounce)
	fmt.Fprintf(out, "  recovery_delay: %s\n", cfg.Activity.RecoveryDelay)
	fmt.Fprintf(out, "  completed_hold: %s\n", cfg.Activity.CompletedHold)
	fmt.Fprintf(out, "  working_patterns: %q\n", cfg.Activity.WorkingPatterns)
	fmt.Fprintf(out, "  completion_patterns: %q\n", cfg.Activity.CompletionPatterns)
	fmt.Fprintf(out, "  prompt_patterns: %q\n", cfg.Activity.PromptPatterns)

	fmt.Fprintln(out, "host:")
	fmt.Fprintf(out, "  resume_stagger: %s\n", cfg.Host.ResumeStagger)
	fmt.Fprintf(out, "  trash_ttl: %s\n", cfg.Host.TrashTTL)
	fmt.Fprintf(out, "  snapshot_lines: %d\n", cfg.Host.SnapshotLines)
	fmt.Fprintf(out, "  reliability_metrics: %v\n", cfg.Host.ReliabilityMetrics)
	fmt.Fprintf(out, "  default_shell: %s\n", cfg.HostConfig().DefaultShell)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %s\n", cfg.Logging.LogDir())

	fmt.Fprintln(out, "metrics:")
	fmt.Fprintf(out, "  addr: %q\n", cfg.Metrics.Addr)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# termhost configuration
# Durations use Go syntax: 250ms, 2s, 10m.

# Backpressure on terminal output
flow:
  # Shard utilization (percent) below which paused terminals resume
  resume_threshold: 80
  # Longest a terminal stays paused before it is resumed anyway
  max_pause: 5s
  # Suspend a paused background terminal's visual stream after this long
  stall_suspend_after: 2s

# Host-wide memory throttle
governor:
  enabled: true
  high_watermark: 80
  low_watermark: 60

# Busy/idle detection
activity:
  # Quiet time before a busy terminal is reported idle
  silence_debounce: 2.5s
  # Sustained output needed before an idle terminal is reported busy again
  recovery_delay: 1.5s
  # Regular expressions; an empty list uses the built-in profile
  working_patterns: []
  prompt_patterns: []

host:
  # Trashed terminals are killed after this long unless restored
  trash_ttl: 10m
  # Emit terminal-reliability-metric events for every flow action
  reliability_metrics: false

logging:
  # debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3

metrics:
  # Prometheus listen address, e.g. 127.0.0.1:9464 (empty = disabled)
  addr: ""
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/termhost/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: TERMHOST_* (e.g., TERMHOST_FLOW_MAX_PAUSE)")

	return nil
}
