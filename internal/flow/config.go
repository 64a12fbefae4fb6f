package flow

import (
	"time"

	"github.com/Iron-Ham/termhost/internal/transport"
)

// Config holds the flow controller's thresholds.
type Config struct {
	// MaxPacketPayload bounds the payload of each framed packet.
	MaxPacketPayload int
	// ResumeThreshold is the shard utilization (percent) below which queued
	// output is drained and a paused terminal resumes.
	ResumeThreshold float64
	// MonitorInterval is the period of the pause monitor.
	MonitorInterval time.Duration
	// MaxPause is the longest a terminal stays paused before it is resumed
	// regardless of utilization.
	MaxPause time.Duration
	// StallSuspendAfter is the continuous pause after which an eligible
	// terminal's visual stream is suspended.
	StallSuspendAfter time.Duration
	// StallSuspendActive makes active-tier terminals eligible for stall
	// suspension too. By default only background terminals are.
	StallSuspendActive bool
	// TerminalPendingCap and GlobalPendingCap bound queued output bytes.
	TerminalPendingCap int
	GlobalPendingCap   int
	// FallbackMaxQueued is the hard cap of unacknowledged bytes on the
	// fallback channel; the watermarks are percentages of it.
	FallbackMaxQueued       int
	FallbackHighWatermark   float64
	FallbackResumeWatermark float64
	// ReliabilityEvents publishes a metric event for every flow action.
	ReliabilityEvents bool
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxPacketPayload:        transport.MaxPayload,
		ResumeThreshold:         80,
		MonitorInterval:         100 * time.Millisecond,
		MaxPause:                5 * time.Second,
		StallSuspendAfter:       2 * time.Second,
		TerminalPendingCap:      4 << 20,
		GlobalPendingCap:        64 << 20,
		FallbackMaxQueued:       4 << 20,
		FallbackHighWatermark:   50,
		FallbackResumeWatermark: 25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPacketPayload <= 0 || c.MaxPacketPayload > transport.MaxPayload {
		c.MaxPacketPayload = d.MaxPacketPayload
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.ResumeThreshold <= 0 {
		c.ResumeThreshold = d.ResumeThreshold
	}
	if c.MaxPause <= 0 {
		c.MaxPause = d.MaxPause
	}
	if c.StallSuspendAfter <= 0 {
		c.StallSuspendAfter = d.StallSuspendAfter
	}
	if c.TerminalPendingCap <= 0 {
		c.TerminalPendingCap = d.TerminalPendingCap
	}
	if c.GlobalPendingCap <= 0 {
		c.GlobalPendingCap = d.GlobalPendingCap
	}
	if c.FallbackMaxQueued <= 0 {
		c.FallbackMaxQueued = d.FallbackMaxQueued
	}
	if c.FallbackHighWatermark <= 0 {
		c.FallbackHighWatermark = d.FallbackHighWatermark
	}
	if c.FallbackResumeWatermark <= 0 {
		c.FallbackResumeWatermark = d.FallbackResumeWatermark
	}
	return c
}
