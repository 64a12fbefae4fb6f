// Package flow decides what happens to every chunk of terminal output: framed
// writes into the terminal's ring shard, queueing behind a full shard with
// backpressure on the process, suspension of a stream that cannot keep up, or
// delivery over the byte-accounted fallback channel when no shared buffers are
// attached.
//
// Every pause has a bounded way out: the monitor resumes once utilization
// drops below the resume threshold and the queue is drained, resumes
// unconditionally after MaxPause, or suspends an eligible stream after
// StallSuspendAfter.
package flow

import (
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iron-Ham/termhost/internal/errors"
	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/logging"
	"github.com/Iron-Ham/termhost/internal/loop"
	"github.com/Iron-Ham/termhost/internal/metrics"
	"github.com/Iron-Ham/termhost/internal/registry"
	"github.com/Iron-Ham/termhost/internal/transport"
)

// Delivery paths, as reported in metrics and reliability events.
const (
	PathRing     = "ring"
	PathFallback = "fallback"
)

// Publisher receives the controller's events.
type Publisher interface {
	Publish(e event.Event)
}

// Controller applies flow control to terminal output. It is driven entirely
// from the host's event loop and is not safe for concurrent use.
type Controller struct {
	cfg     Config
	reg     *registry.Registry
	clock   loop.Clock
	pub     Publisher
	logger  *logging.Logger
	metrics *metrics.Recorder
	tr      *transport.Transport

	dropLog *rate.Limiter
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics records flow actions in m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTransport attaches shared buffers from the start.
func WithTransport(tr *transport.Transport) Option {
	return func(c *Controller) { c.tr = tr }
}

// New creates a Controller. Until a transport is attached all output goes
// over the fallback channel.
func New(cfg Config, reg *registry.Registry, clock loop.Clock, pub Publisher, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		clock:   clock,
		pub:     pub,
		logger:  logging.NopLogger(),
		dropLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// SetReliabilityEvents toggles reliability metric events.
func (c *Controller) SetReliabilityEvents(enabled bool) {
	c.cfg.ReliabilityEvents = enabled
}

// SetTransport attaches the shared buffers. It can only happen once.
func (c *Controller) SetTransport(tr *transport.Transport) error {
	if c.tr != nil {
		return errors.ErrBuffersInitialized
	}
	c.tr = tr
	c.logger.Info("shared buffers attached", "shards", tr.ShardCount(), "analysis", tr.HasAnalysis())
	return nil
}

// Transport returns the attached transport, or nil.
func (c *Controller) Transport() *transport.Transport {
	return c.tr
}

// OnData routes one chunk of output. The controller may retain data until it
// is delivered; callers must not reuse the buffer.
func (c *Controller) OnData(t *registry.Terminal, data []byte) {
	if len(data) == 0 {
		return
	}
	if t.Analysis && c.tr != nil && c.tr.HasAnalysis() {
		c.writeAnalysis(t, data)
		// No-op when writeRing already flushed the batch.
		defer c.tr.Flush()
	}
	if t.SkipVisual {
		return
	}
	if t.Stream.State == registry.FlowSuspended {
		c.metrics.Dropped("suspended", len(data))
		return
	}
	if c.tr == nil {
		c.sendFallback(t, data)
		return
	}
	c.writeRing(t, data)
}

func (c *Controller) writeAnalysis(t *registry.Terminal, data []byte) {
	for _, part := range transport.Split(data, c.cfg.MaxPacketPayload) {
		if !c.tr.WriteAnalysis(t.ID, part) {
			c.metrics.Dropped("analysis-full", len(part))
		}
	}
}

func (c *Controller) writeRing(t *registry.Terminal, data []byte) {
	shard := c.tr.ShardFor(t.ID)
	if !t.Stream.Pending.Empty() {
		c.enqueue(t, shard, data, 0)
		return
	}

	offset := 0
	for offset < len(data) {
		n := min(c.cfg.MaxPacketPayload, len(data)-offset)
		part := data[offset : offset+n]
		pkt := c.tr.Frame(shard, t.ID, part)
		if pkt == nil {
			c.oversized(t, shard, part)
			offset += n
			continue
		}
		if !c.tr.Write(shard, pkt) {
			c.tr.Flush()
			c.enqueue(t, shard, data, offset)
			return
		}
		offset += n
	}
	c.tr.Flush()
}

// oversized handles a packet that can never fit its shard by sending it over
// the fallback channel.
func (c *Controller) oversized(t *registry.Terminal, shard int, part []byte) {
	if c.dropLog.Allow() {
		c.logger.WithTerminal(t.ID).Warn("packet larger than shard, using fallback channel",
			"shard", shard, "bytes", len(part), "shard_capacity", c.tr.Shard(shard).Cap())
	}
	c.sendFallback(t, part)
}

func (c *Controller) enqueue(t *registry.Terminal, shard int, buf []byte, offset int) {
	add := len(buf) - offset
	if t.Stream.Pending.Bytes()+add > c.cfg.TerminalPendingCap {
		c.suspend(t, shard, "terminal-pending-cap", add)
		return
	}
	if c.reg.PendingTotal()+add > c.cfg.GlobalPendingCap {
		c.suspend(t, shard, "global-pending-cap", add)
		return
	}
	c.reg.Enqueue(t, buf, offset)
	c.metrics.SetPending(c.reg.PendingTotal())

	// A monitor that is still draining after a forced resume keeps the
	// process running; queueing behind it must not pause again.
	if t.Stream.State == registry.FlowRunning && t.Stream.Monitor == nil {
		c.pause(t, shard, PathRing)
	}
}

func (c *Controller) pause(t *registry.Terminal, shard int, path string) {
	if _, err := t.Pause(registry.ReasonBackpressure); err != nil {
		c.logger.WithTerminal(t.ID).Warn("failed to pause process", "error", err)
	}
	t.Stream.State = registry.FlowPaused
	t.Stream.PausedAt = c.clock.Now()
	c.startMonitor(t)

	util := c.utilization(t, shard, path)
	c.logger.WithTerminal(t.ID).Debug("output paused", "path", path, "utilization", util,
		"pending_bytes", t.Stream.Pending.Bytes(), "fallback_queued", t.Stream.FallbackQueued)
	c.status(t, "backpressure")
	c.record(t, "pause", path, 0, util, shard)
}

func (c *Controller) startMonitor(t *registry.Terminal) {
	t.Stream.StopMonitor()
	id, gen, seq := t.ID, t.Gen, t.Stream.MonitorSeq
	t.Stream.Monitor = c.clock.AfterFunc(c.cfg.MonitorInterval, func() {
		c.tick(id, gen, seq)
	})
}

// tick is one run of the pause monitor.
func (c *Controller) tick(id string, gen, seq uint64) {
	t, ok := c.reg.Lookup(id, gen)
	if !ok || t.Stream.MonitorSeq != seq {
		return
	}
	t.Stream.Monitor = nil

	path := PathFallback
	shard := -1
	if c.tr != nil {
		path = PathRing
		shard = c.tr.ShardFor(id)
	}

	if t.Stream.State == registry.FlowPaused {
		elapsed := c.clock.Now().Sub(t.Stream.PausedAt)
		if c.stallEligible(t) && elapsed >= c.cfg.StallSuspendAfter {
			c.suspend(t, shard, "stall", 0)
			return
		}
		if elapsed >= c.cfg.MaxPause {
			c.resume(t, shard, path, "max-pause", true)
			if !t.Stream.Pending.Empty() {
				c.startMonitor(t)
			}
			return
		}
	}

	if c.tr == nil {
		if t.Stream.State == registry.FlowPaused {
			if c.fallbackPercent(t) < c.cfg.FallbackResumeWatermark {
				c.resume(t, shard, path, "acknowledged", false)
				return
			}
			c.startMonitor(t)
		}
		return
	}

	if c.tr.Utilization(shard) < c.cfg.ResumeThreshold {
		c.drain(t, shard)
	}
	if t.Stream.Pending.Empty() {
		if t.Stream.State == registry.FlowPaused {
			c.resume(t, shard, path, "drained", false)
		}
		return
	}
	if t.Stream.State != registry.FlowSuspended {
		c.startMonitor(t)
	}
}

// drain writes queued output FIFO until the queue is empty or the shard is
// full again. Partial drains are fine; the rest waits for the next tick.
func (c *Controller) drain(t *registry.Terminal, shard int) {
	for !t.Stream.Pending.Empty() {
		front := t.Stream.Pending.Front()
		n := min(len(front), c.cfg.MaxPacketPayload)
		pkt := c.tr.Frame(shard, t.ID, front[:n])
		if pkt == nil {
			c.oversized(t, shard, front[:n])
			c.reg.Consume(t, n)
			continue
		}
		if !c.tr.Write(shard, pkt) {
			break
		}
		c.reg.Consume(t, n)
	}
	c.tr.Flush()
	c.metrics.SetPending(c.reg.PendingTotal())
}

func (c *Controller) resume(t *registry.Terminal, shard int, path, cause string, forced bool) {
	var paused time.Duration
	if !t.Stream.PausedAt.IsZero() {
		paused = c.clock.Now().Sub(t.Stream.PausedAt)
	}
	if _, err := t.Resume(registry.ReasonBackpressure); err != nil {
		c.logger.WithTerminal(t.ID).Warn("failed to resume process", "error", err)
	}
	t.Stream.State = registry.FlowRunning
	t.Stream.PausedAt = time.Time{}
	if t.Stream.Pending.Empty() {
		t.Stream.StopMonitor()
	}

	util := c.utilization(t, shard, path)
	metric := "resume"
	if forced {
		metric = "force-resume"
		c.logger.WithTerminal(t.ID).Warn("forced resume", "cause", cause,
			"paused_ms", paused.Milliseconds(), "utilization", util, "pending_bytes", t.Stream.Pending.Bytes())
	} else {
		c.logger.WithTerminal(t.ID).Debug("output resumed", "cause", cause, "paused_ms", paused.Milliseconds())
	}
	c.metrics.Paused(metric, paused)
	c.status(t, cause)
	c.record(t, metric, path, paused, util, shard)
}

// suspend stops the terminal's visual stream. Queued output is discarded and
// the process is released so it keeps running.
func (c *Controller) suspend(t *registry.Terminal, shard int, cause string, incoming int) {
	var paused time.Duration
	if !t.Stream.PausedAt.IsZero() {
		paused = c.clock.Now().Sub(t.Stream.PausedAt)
	}
	path := PathRing
	if c.tr == nil {
		path = PathFallback
	}
	util := c.utilization(t, shard, path)
	dropped := c.reg.ClearPending(t) + incoming
	t.Stream.StopMonitor()
	if _, err := t.Resume(registry.ReasonBackpressure); err != nil {
		c.logger.WithTerminal(t.ID).Warn("failed to resume process", "error", err)
	}
	t.Stream.State = registry.FlowSuspended
	t.Stream.PausedAt = time.Time{}

	c.logger.WithTerminal(t.ID).Warn("output stream suspended",
		"cause", cause, "utilization", util, "paused_ms", paused.Milliseconds(),
		"dropped_bytes", dropped, "global_pending", c.reg.PendingTotal())
	c.metrics.Dropped(cause, dropped)
	c.metrics.SetPending(c.reg.PendingTotal())
	if paused > 0 {
		c.metrics.Paused("suspend", paused)
	}
	c.status(t, cause)
	c.record(t, "suspend", path, paused, util, shard)
}

// Wake restores a terminal's visual stream: a suspended stream starts
// accepting output again and a paused one is resumed immediately. It reports
// whether anything changed.
func (c *Controller) Wake(t *registry.Terminal, reason string) bool {
	switch t.Stream.State {
	case registry.FlowSuspended:
		t.Stream.State = registry.FlowRunning
		c.logger.WithTerminal(t.ID).Info("output stream woken", "reason", reason)
		path, shard := PathFallback, -1
		if c.tr != nil {
			path, shard = PathRing, c.tr.ShardFor(t.ID)
		}
		c.status(t, reason)
		c.record(t, "wake", path, 0, c.utilization(t, shard, path), shard)
		return true
	case registry.FlowPaused:
		path, shard := PathFallback, -1
		if c.tr != nil {
			path, shard = PathRing, c.tr.ShardFor(t.ID)
		}
		c.resume(t, shard, path, reason, true)
		if !t.Stream.Pending.Empty() {
			c.startMonitor(t)
		}
		return true
	default:
		return false
	}
}

// Acknowledge records that the UI consumed n bytes sent over the fallback
// channel. A terminal paused on the fallback path resumes as soon as its
// unacknowledged bytes drop below the resume watermark.
func (c *Controller) Acknowledge(t *registry.Terminal, n int) {
	if n <= 0 {
		return
	}
	t.Stream.FallbackQueued = max(0, t.Stream.FallbackQueued-n)
	if c.tr != nil || t.Stream.State != registry.FlowPaused {
		return
	}
	if c.fallbackPercent(t) < c.cfg.FallbackResumeWatermark {
		c.resume(t, -1, PathFallback, "acknowledged", false)
	}
}

func (c *Controller) sendFallback(t *registry.Terminal, data []byte) {
	s := &t.Stream
	if s.FallbackQueued+len(data) > c.cfg.FallbackMaxQueued {
		if c.dropLog.Allow() {
			c.logger.WithTerminal(t.ID).Warn("fallback channel full, dropping output",
				"bytes", len(data), "queued", s.FallbackQueued, "cap", c.cfg.FallbackMaxQueued)
		}
		c.metrics.Dropped("fallback-cap", len(data))
		c.record(t, "drop", PathFallback, 0, c.fallbackPercent(t), -1)
		return
	}
	s.FallbackQueued += len(data)
	c.pub.Publish(event.NewTerminalDataEvent(t.ID, data))

	if c.tr == nil && s.State == registry.FlowRunning && c.fallbackPercent(t) >= c.cfg.FallbackHighWatermark {
		c.pause(t, -1, PathFallback)
	}
}

func (c *Controller) fallbackPercent(t *registry.Terminal) float64 {
	return float64(t.Stream.FallbackQueued) * 100 / float64(c.cfg.FallbackMaxQueued)
}

func (c *Controller) utilization(t *registry.Terminal, shard int, path string) float64 {
	if path == PathFallback || c.tr == nil || shard < 0 {
		return c.fallbackPercent(t)
	}
	util := c.tr.Utilization(shard)
	c.metrics.ObserveShard(strconv.Itoa(shard), util)
	return util
}

func (c *Controller) stallEligible(t *registry.Terminal) bool {
	return t.Tier == registry.TierBackground || c.cfg.StallSuspendActive
}

// status publishes the stream state unless it repeats the last one published.
func (c *Controller) status(t *registry.Terminal, reason string) {
	if t.Stream.StatusChanged(t.Stream.State) {
		c.pub.Publish(event.NewTerminalStatusEvent(t.ID, t.Stream.State.String(), reason))
	}
}

func (c *Controller) record(t *registry.Terminal, metric, path string, d time.Duration, util float64, shard int) {
	c.metrics.FlowAction(metric, path)
	if !c.cfg.ReliabilityEvents {
		return
	}
	e := event.NewReliabilityMetricEvent(t.ID, metric, path)
	e.Duration = d
	e.Utilization = util
	e.PendingBytes = t.Stream.Pending.Bytes()
	e.Shard = shard
	c.pub.Publish(e)
}
