package governor

import (
	"runtime/debug"
	"time"

	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/logging"
	"github.com/Iron-Ham/termhost/internal/loop"
	"github.com/Iron-Ham/termhost/internal/metrics"
	"github.com/Iron-Ham/termhost/internal/registry"
)

// Config holds the governor's thresholds.
type Config struct {
	Interval      time.Duration
	HighWatermark float64
	LowWatermark  float64
	MaxEngaged    time.Duration
	MaxHeapBytes  uint64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:      2 * time.Second,
		HighWatermark: 80,
		LowWatermark:  60,
		MaxEngaged:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = d.HighWatermark
	}
	if c.LowWatermark <= 0 || c.LowWatermark > c.HighWatermark {
		c.LowWatermark = min(d.LowWatermark, c.HighWatermark)
	}
	if c.MaxEngaged <= 0 {
		c.MaxEngaged = d.MaxEngaged
	}
	return c
}

// Publisher receives host-throttled events.
type Publisher interface {
	Publish(e event.Event)
}

// Governor pauses all terminals while the host is under memory pressure.
type Governor struct {
	cfg     Config
	reg     *registry.Registry
	clock   loop.Clock
	pub     Publisher
	sampler Sampler
	reclaim func()
	logger  *logging.Logger
	metrics *metrics.Recorder

	timer     loop.Timer
	running   bool
	engaged   bool
	engagedAt time.Time
}

// Option configures a Governor.
type Option func(*Governor)

// WithSampler replaces the runtime heap sampler.
func WithSampler(s Sampler) Option {
	return func(g *Governor) { g.sampler = s }
}

// WithReclaim replaces the function asked to return memory to the OS when
// the governor engages.
func WithReclaim(f func()) Option {
	return func(g *Governor) { g.reclaim = f }
}

// WithLogger sets the governor's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// WithMetrics records utilization and throttle durations in m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(g *Governor) { g.metrics = m }
}

// New creates a Governor. It does nothing until Start is called.
func New(cfg Config, reg *registry.Registry, clock loop.Clock, pub Publisher, opts ...Option) *Governor {
	cfg = cfg.withDefaults()
	g := &Governor{
		cfg:     cfg,
		reg:     reg,
		clock:   clock,
		pub:     pub,
		sampler: RuntimeSampler{MaxHeapBytes: cfg.MaxHeapBytes},
		reclaim: debug.FreeOSMemory,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins periodic sampling.
func (g *Governor) Start() {
	if g.running {
		return
	}
	g.running = true
	g.schedule()
}

// Stop ends sampling. Terminals paused by the governor are released.
func (g *Governor) Stop() {
	if !g.running {
		return
	}
	g.running = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.engaged {
		g.release(0, "stopped")
	}
}

// Engaged reports whether the governor currently holds terminals paused.
func (g *Governor) Engaged() bool {
	return g.engaged
}

// Admit applies an active throttle to a terminal spawned while engaged.
func (g *Governor) Admit(t *registry.Terminal) {
	if !g.engaged {
		return
	}
	if _, err := t.Pause(registry.ReasonGovernor); err != nil {
		g.logger.WithTerminal(t.ID).Warn("failed to pause process for governor", "error", err)
	}
}

func (g *Governor) schedule() {
	g.timer = g.clock.AfterFunc(g.cfg.Interval, func() {
		if !g.running {
			return
		}
		g.Tick()
		if g.running {
			g.schedule()
		}
	})
}

// Tick takes one sample and engages or releases the throttle.
func (g *Governor) Tick() {
	s, err := g.sampler.Sample()
	if err != nil {
		g.logger.Warn("heap sample failed", "error", err)
		return
	}
	util := s.Utilization()
	g.metrics.Governor(util, g.engaged)

	switch {
	case !g.engaged && util > g.cfg.HighWatermark:
		g.engage(util, s)
	case g.engaged && util < g.cfg.LowWatermark:
		g.release(util, "recovered")
	case g.engaged && g.clock.Now().Sub(g.engagedAt) >= g.cfg.MaxEngaged:
		g.release(util, "max-engaged")
	}
}

func (g *Governor) engage(util float64, s Sample) {
	g.engaged = true
	g.engagedAt = g.clock.Now()

	paused := 0
	for _, t := range g.reg.All() {
		did, err := t.Pause(registry.ReasonGovernor)
		if err != nil {
			g.logger.WithTerminal(t.ID).Warn("failed to pause process for governor", "error", err)
			continue
		}
		if did {
			paused++
		}
	}
	g.reclaim()

	g.logger.Warn("memory pressure, throttling terminals",
		"utilization", util, "heap_in_use", s.HeapInUse, "limit", s.Limit,
		"terminals", g.reg.Len(), "paused", paused)
	g.metrics.Governor(util, true)
	g.pub.Publish(event.NewHostThrottledEvent(true, util, 0))
}

func (g *Governor) release(util float64, cause string) {
	d := g.clock.Now().Sub(g.engagedAt)
	g.engaged = false
	g.engagedAt = time.Time{}

	for _, t := range g.reg.All() {
		if _, err := t.Resume(registry.ReasonGovernor); err != nil {
			g.logger.WithTerminal(t.ID).Warn("failed to resume process for governor", "error", err)
		}
	}

	g.logger.Info("throttle released", "cause", cause, "utilization", util, "duration_ms", d.Milliseconds())
	g.metrics.Governor(util, false)
	g.metrics.ThrottleReleased(d)
	g.pub.Publish(event.NewHostThrottledEvent(false, util, d))
}
