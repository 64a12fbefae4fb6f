package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/termhost/internal/activity"
	"github.com/Iron-Ham/termhost/internal/flow"
	"github.com/Iron-Ham/termhost/internal/host"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default transport config
	if cfg.Transport.ShardCount != 4 {
		t.Errorf("Transport.ShardCount = %d, want 4", cfg.Transport.ShardCount)
	}
	if cfg.Transport.ShardSize != 4<<20 {
		t.Errorf("Transport.ShardSize = %d, want %d", cfg.Transport.ShardSize, 4<<20)
	}
	if cfg.Transport.ShmDir != "/dev/shm" {
		t.Errorf("Transport.ShmDir = %q, want /dev/shm", cfg.Transport.ShmDir)
	}

	// Verify default flow config
	if cfg.Flow.ResumeThreshold != 80 {
		t.Errorf("Flow.ResumeThreshold = %v, want 80", cfg.Flow.ResumeThreshold)
	}
	if cfg.Flow.MaxPause != 5*time.Second {
		t.Errorf("Flow.MaxPause = %v, want 5s", cfg.Flow.MaxPause)
	}
	if cfg.Flow.StallSuspendActive {
		t.Error("Flow.StallSuspendActive should be false by default")
	}

	// Verify default governor config
	if !cfg.Governor.Enabled {
		t.Error("Governor.Enabled should be true by default")
	}
	if cfg.Governor.HighWatermark != 80 || cfg.Governor.LowWatermark != 60 {
		t.Errorf("Governor watermarks = %v/%v, want 80/60", cfg.Governor.HighWatermark, cfg.Governor.LowWatermark)
	}

	// Verify default activity config
	if cfg.Activity.SilenceDebounce != 2500*time.Millisecond {
		t.Errorf("Activity.SilenceDebounce = %v, want 2.5s", cfg.Activity.SilenceDebounce)
	}
	if len(cfg.Activity.PromptPatterns) != 0 {
		t.Errorf("Activity.PromptPatterns = %v, want empty", cfg.Activity.PromptPatterns)
	}

	// Verify default host config
	if cfg.Host.TrashTTL != 10*time.Minute {
		t.Errorf("Host.TrashTTL = %v, want 10m", cfg.Host.TrashTTL)
	}
	if cfg.Host.SnapshotLines != 50 {
		t.Errorf("Host.SnapshotLines = %d, want 50", cfg.Host.SnapshotLines)
	}
	if cfg.Host.ReliabilityMetrics {
		t.Error("Host.ReliabilityMetrics should be false by default")
	}

	// Verify default logging config
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Metrics.Addr != "" {
		t.Errorf("Metrics.Addr = %q, want disabled", cfg.Metrics.Addr)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/termhost"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		// Should be based on home directory
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "termhost")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/termhost/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	if got := StateDir(); got != "/custom/state/termhost" {
		t.Errorf("StateDir() = %q, want /custom/state/termhost", got)
	}

	l := LoggingConfig{}
	if got := l.LogDir(); got != "/custom/state/termhost" {
		t.Errorf("LogDir() = %q, want StateDir()", got)
	}
	l.Dir = "/var/log/termhost"
	if got := l.LogDir(); got != "/var/log/termhost" {
		t.Errorf("LogDir() = %q, want /var/log/termhost", got)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	// Get() should return defaults when no config file exists
	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Flow.MonitorInterval != 100*time.Millisecond {
		t.Errorf("Get().Flow.MonitorInterval = %v, want 100ms", cfg.Flow.MonitorInterval)
	}
	if cfg.Host.MailboxSize != 1024 {
		t.Errorf("Get().Host.MailboxSize = %d, want 1024", cfg.Host.MailboxSize)
	}
}

func TestLoad_FromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
flow:
  max_pause: 2s
  stall_suspend_active: true
activity:
  silence_debounce: 750ms
  prompt_patterns:
    - '^\$ $'
host:
  reliability_metrics: true
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Flow.MaxPause != 2*time.Second {
		t.Errorf("Flow.MaxPause = %v, want 2s", cfg.Flow.MaxPause)
	}
	if !cfg.Flow.StallSuspendActive {
		t.Error("Flow.StallSuspendActive = false, want true")
	}
	if cfg.Activity.SilenceDebounce != 750*time.Millisecond {
		t.Errorf("Activity.SilenceDebounce = %v, want 750ms", cfg.Activity.SilenceDebounce)
	}
	if len(cfg.Activity.PromptPatterns) != 1 || cfg.Activity.PromptPatterns[0] != `^\$ $` {
		t.Errorf("Activity.PromptPatterns = %q", cfg.Activity.PromptPatterns)
	}
	if !cfg.Host.ReliabilityMetrics {
		t.Error("Host.ReliabilityMetrics = false, want true")
	}
	// Keys absent from the file keep their defaults
	if cfg.Flow.ResumeThreshold != 80 {
		t.Errorf("Flow.ResumeThreshold = %v, want default 80", cfg.Flow.ResumeThreshold)
	}
}

func TestLoad_Invalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("governor.low_watermark", 90)
	viper.Set("activity.working_patterns", []string{"(unclosed"})

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail validation")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}

	// Get falls back to defaults
	if cfg := Get(); cfg.Governor.LowWatermark != 60 {
		t.Errorf("Get().Governor.LowWatermark = %v, want default 60", cfg.Governor.LowWatermark)
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := Default()
	cfg.Transport.MaxPacketPayload = 1024
	cfg.Flow.MaxPause = 3 * time.Second
	cfg.Governor.Enabled = false
	cfg.Activity.PromptPatterns = []string{`> $`}
	cfg.Host.ReliabilityMetrics = true
	cfg.Host.DefaultShell = "/bin/zsh"

	fc := cfg.FlowConfig()
	want := flow.DefaultConfig()
	want.MaxPacketPayload = 1024
	want.MaxPause = 3 * time.Second
	want.ReliabilityEvents = true
	if fc != want {
		t.Errorf("FlowConfig() = %+v, want %+v", fc, want)
	}

	ac := cfg.ActivityConfig()
	if ac.SilenceDebounce != activity.DefaultConfig().SilenceDebounce {
		t.Errorf("ActivityConfig().SilenceDebounce = %v", ac.SilenceDebounce)
	}
	if len(ac.PromptPatterns) != 1 {
		t.Errorf("ActivityConfig().PromptPatterns = %v", ac.PromptPatterns)
	}

	hc := cfg.HostConfig()
	if hc.GovernorEnabled {
		t.Error("HostConfig().GovernorEnabled = true, want false")
	}
	if !hc.ReliabilityMetrics || !hc.Flow.ReliabilityEvents {
		t.Error("HostConfig() should carry reliability metrics into flow")
	}
	if hc.DefaultShell != "/bin/zsh" {
		t.Errorf("HostConfig().DefaultShell = %q, want /bin/zsh", hc.DefaultShell)
	}
	if hc.TrashTTL != host.DefaultConfig().TrashTTL {
		t.Errorf("HostConfig().TrashTTL = %v", hc.TrashTTL)
	}
	if hc.Governor != cfg.GovernorConfig() {
		t.Errorf("HostConfig().Governor = %+v", hc.Governor)
	}
}

func TestConfig_HostConfig_ShellFromEnv(t *testing.T) {
	t.Setenv("SHELL", "/bin/fish")
	if got := Default().HostConfig().DefaultShell; got != "/bin/fish" {
		t.Errorf("DefaultShell = %q, want $SHELL", got)
	}
}

func TestLoggingConfig_Rotation(t *testing.T) {
	l := LoggingConfig{MaxSizeMB: 25, MaxBackups: 7}
	r := l.Rotation()
	if r.MaxSizeMB != 25 || r.MaxBackups != 7 {
		t.Errorf("Rotation() = %+v, want 25MB/7 backups", r)
	}
}
