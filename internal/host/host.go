package host

import (
	"context"
	"os"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/termhost/internal/activity"
	"github.com/Iron-Ham/termhost/internal/errors"
	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/flow"
	"github.com/Iron-Ham/termhost/internal/governor"
	"github.com/Iron-Ham/termhost/internal/logging"
	"github.com/Iron-Ham/termhost/internal/loop"
	"github.com/Iron-Ham/termhost/internal/metrics"
	"github.com/Iron-Ham/termhost/internal/ptyproc"
	"github.com/Iron-Ham/termhost/internal/registry"
)

// shutdownGrace is how long Run waits for processes to exit after SIGHUP
// before sending SIGKILL.
const shutdownGrace = 3 * time.Second

// Config holds the host's own knobs and those of its subsystems.
type Config struct {
	Flow            flow.Config
	Governor        governor.Config
	GovernorEnabled bool
	Activity        activity.Config

	// ResumeStagger spaces out resumes after system wake.
	ResumeStagger time.Duration
	// TrashTTL is how long a trashed terminal survives before it is killed.
	TrashTTL time.Duration
	// SnapshotLines is the number of output lines in a snapshot.
	SnapshotLines int
	// CaptureBufferSize is the per-terminal output retained for snapshots.
	CaptureBufferSize int
	// ReliabilityMetrics publishes a metric event for every flow action.
	ReliabilityMetrics bool
	// DefaultShell runs when a spawn request names no program.
	DefaultShell string
	// MailboxSize bounds the event loop's queue.
	MailboxSize int
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() Config {
	return Config{
		Flow:              flow.DefaultConfig(),
		Governor:          governor.DefaultConfig(),
		GovernorEnabled:   true,
		Activity:          activity.DefaultConfig(),
		ResumeStagger:     50 * time.Millisecond,
		TrashTTL:          10 * time.Minute,
		SnapshotLines:     50,
		CaptureBufferSize: 64 * 1024,
		DefaultShell:      os.Getenv("SHELL"),
		MailboxSize:       1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ResumeStagger < 0 {
		c.ResumeStagger = d.ResumeStagger
	}
	if c.TrashTTL <= 0 {
		c.TrashTTL = d.TrashTTL
	}
	if c.SnapshotLines <= 0 {
		c.SnapshotLines = d.SnapshotLines
	}
	if c.CaptureBufferSize <= 0 {
		c.CaptureBufferSize = d.CaptureBufferSize
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	return c
}

// PTY is a running terminal process as the host drives it.
type PTY interface {
	registry.Process
	HasActiveChildren() (bool, error)
	// Run delivers output until the process exits and returns its exit code.
	Run(onData func([]byte)) (int, error)
}

// Spawner starts a terminal process.
type Spawner func(opts ptyproc.Options) (PTY, error)

func startPTY(opts ptyproc.Options) (PTY, error) {
	p, err := ptyproc.Start(opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Poster queues work for the goroutine that owns host state.
type Poster interface {
	Post(f func()) bool
}

// Host owns every terminal and answers host messages. All state is touched
// only from the event loop; Submit is the entry point for other goroutines.
type Host struct {
	cfg     Config
	loop    *loop.Loop
	clock   loop.Clock
	poster  Poster
	bus     *event.Bus
	reg     *registry.Registry
	flow    *flow.Controller
	gov     *governor.Governor
	spawn   Spawner
	logger  *logging.Logger
	metrics *metrics.Recorder
	crash   *logging.CrashLog
	govOpts []governor.Option
	errLog  *rate.Limiter

	readers      conc.WaitGroup
	sleeping     bool
	resumeTimers []loop.Timer
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host's logger. Subsystems log through it too.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithMetrics records host activity in m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(h *Host) { h.metrics = m }
}

// WithCrashLog records recovered panics in c.
func WithCrashLog(c *logging.CrashLog) Option {
	return func(h *Host) { h.crash = c }
}

// WithSpawner replaces the PTY spawner.
func WithSpawner(s Spawner) Option {
	return func(h *Host) { h.spawn = s }
}

// WithClock replaces the event loop's clock. Together with WithPoster it
// lets the caller drive the host without its built-in loop.
func WithClock(c loop.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithPoster replaces the event loop's mailbox.
func WithPoster(p Poster) Option {
	return func(h *Host) { h.poster = p }
}

// WithGovernorOptions passes options through to the resource governor.
func WithGovernorOptions(opts ...governor.Option) Option {
	return func(h *Host) { h.govOpts = append(h.govOpts, opts...) }
}

// New creates a Host. Nothing runs until Run, or until the injected poster is
// drained.
func New(cfg Config, opts ...Option) *Host {
	h := &Host{
		cfg:    cfg.withDefaults(),
		reg:    registry.New(),
		spawn:  startPTY,
		logger: logging.NopLogger(),
		errLog: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("host")
	h.bus = event.NewBus(event.WithPanicReporter(func(eventType string, recovered any, stack []byte) {
		h.recordPanic("event handler "+eventType, recovered, stack)
	}))

	if h.clock == nil || h.poster == nil {
		h.loop = loop.New(h.cfg.MailboxSize,
			loop.WithLogger(h.logger),
			loop.WithPanicHandler(func(recovered any, stack []byte) {
				h.recordPanic("event loop", recovered, stack)
			}))
		if h.clock == nil {
			h.clock = h.loop
		}
		if h.poster == nil {
			h.poster = h.loop
		}
	}

	flowCfg := h.cfg.Flow
	flowCfg.ReliabilityEvents = flowCfg.ReliabilityEvents || h.cfg.ReliabilityMetrics
	h.flow = flow.New(flowCfg, h.reg, h.clock, h.bus,
		flow.WithLogger(h.logger.WithComponent("flow")),
		flow.WithMetrics(h.metrics))

	govOpts := append([]governor.Option{
		governor.WithLogger(h.logger.WithComponent("governor")),
		governor.WithMetrics(h.metrics),
	}, h.govOpts...)
	h.gov = governor.New(h.cfg.Governor, h.reg, h.clock, h.bus, govOpts...)
	return h
}

// Bus returns the bus every host event is published on.
func (h *Host) Bus() *event.Bus {
	return h.bus
}

// Registry returns the terminal registry. It must only be used from the
// event loop.
func (h *Host) Registry() *registry.Registry {
	return h.reg
}

// Flow returns the flow controller. It must only be used from the event loop.
func (h *Host) Flow() *flow.Controller {
	return h.flow
}

// Governor returns the resource governor. It must only be used from the
// event loop.
func (h *Host) Governor() *governor.Governor {
	return h.gov
}

// Start begins background work. Run calls it on the loop; hosts driven by an
// injected poster call it themselves.
func (h *Host) Start() {
	if h.cfg.GovernorEnabled {
		h.gov.Start()
	}
}

// Run processes messages until ctx is cancelled or Close is called, then
// kills every terminal. It requires the built-in event loop.
func (h *Host) Run(ctx context.Context) error {
	if h.loop == nil {
		return errors.New("host: Run requires the built-in event loop")
	}
	h.loop.Post(h.Start)
	err := h.loop.Run(ctx)
	h.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the event loop; Run then shuts down.
func (h *Host) Close() {
	if h.loop != nil {
		h.loop.Close()
	}
}

// Stop kills every terminal and waits for their readers. With the built-in
// loop Run calls it after the loop stops; otherwise it must be called from
// the goroutine that drains the poster.
func (h *Host) Stop() {
	h.gov.Stop()
	h.stopResumeTimers()

	terminals := h.reg.All()
	for _, t := range terminals {
		t.ExitReason = "shutdown"
		h.reg.Remove(t.ID)
		if err := t.Process.Kill("SIGHUP"); err != nil {
			h.logger.WithTerminal(t.ID).Warn("failed to signal process on shutdown", "error", err)
		}
	}
	h.metrics.SetTerminals(0)

	done := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		h.logger.Warn("processes still running after SIGHUP, killing", "count", len(terminals))
		for _, t := range terminals {
			_ = t.Process.Kill("SIGKILL")
		}
		<-done
	}

	if tr := h.flow.Transport(); tr != nil {
		if err := tr.Close(); err != nil {
			h.logger.Warn("failed to close shared buffers", "error", err)
		}
	}
}

// Submit decodes a message and queues it for the event loop. It is safe to
// call from any goroutine and does not retain msg. It returns false once the
// loop has stopped.
func (h *Host) Submit(msg []byte) bool {
	req, err := DecodeRequest(msg)
	if err != nil {
		typ, id := PeekType(msg)
		return h.poster.Post(func() { h.fail(id, typ, err) })
	}
	return h.poster.Post(func() { h.Handle(req) })
}

// SetActivityConfig replaces the activity configuration used for terminals
// spawned from now on. It is safe to call from any goroutine.
func (h *Host) SetActivityConfig(cfg activity.Config) {
	h.poster.Post(func() {
		h.cfg.Activity = cfg
		h.logger.Info("activity configuration updated")
	})
}

// SetReliabilityMetrics toggles reliability metric events. It is safe to
// call from any goroutine.
func (h *Host) SetReliabilityMetrics(enabled bool) {
	h.poster.Post(func() {
		h.cfg.ReliabilityMetrics = enabled
		h.flow.SetReliabilityEvents(enabled)
	})
}

// startReader pumps the process's output into the loop until it exits.
func (h *Host) startReader(t *registry.Terminal, p PTY) {
	h.readers.Go(func() {
		var (
			code int
			err  error
			pc   panics.Catcher
		)
		pc.Try(func() {
			code, err = p.Run(func(data []byte) {
				h.poster.Post(func() { h.onData(t, data) })
			})
		})
		if r := pc.Recovered(); r != nil {
			h.recordPanic("pty reader "+t.ID, r.Value, r.Stack)
			code, err = -1, r.AsError()
		}
		h.poster.Post(func() { h.onExit(t, code, err) })
	})
}

func (h *Host) onData(t *registry.Terminal, data []byte) {
	if t.Removed() {
		return
	}
	t.LastOutputAt = h.clock.Now()
	if t.Output != nil {
		_, _ = t.Output.Write(data)
	}
	if t.Activity != nil {
		t.Activity.OnOutput(data)
	}
	h.flow.OnData(t, data)
}

// onExit publishes the terminal's single exit event. A terminal the host
// killed was already removed; one whose process exited on its own is
// removed here.
func (h *Host) onExit(t *registry.Terminal, code int, err error) {
	if _, ok := h.reg.Lookup(t.ID, t.Gen); ok {
		h.reg.Remove(t.ID)
		h.metrics.SetTerminals(h.reg.Len())
	}
	reason := t.ExitReason
	if reason == "" {
		reason = "exit"
	}
	logger := h.logger.WithTerminal(t.ID)
	if err != nil {
		logger.Warn("terminal reader failed", "error", err)
	}
	logger.Info("terminal exited", "exit_code", code, "reason", reason)
	h.bus.Publish(event.NewTerminalExitEvent(t.ID, code, reason))
}

// fail reports a request failure to the UI. Protocol errors are logged at a
// bounded rate since a misbehaving client can produce them without limit.
func (h *Host) fail(terminalID, requestType string, err error) {
	code := errors.Code(err)
	h.metrics.Request(requestType, code)
	if !errors.IsProtocol(err) || h.errLog.Allow() {
		h.logFailure(errors.GetSeverity(err), "request failed",
			"terminal_id", terminalID,
			"request_type", requestType,
			"code", code,
			"error", err)
	}
	e := event.NewHostErrorEvent(terminalID, requestType, code, err.Error())
	e.Retryable = errors.IsRetryable(err)
	e.UserFacing = errors.IsUserFacing(err)
	h.bus.Publish(e)
}

func (h *Host) logFailure(sev errors.Severity, msg string, args ...any) {
	switch sev {
	case errors.SeverityDebug:
		h.logger.Debug(msg, args...)
	case errors.SeverityInfo:
		h.logger.Info(msg, args...)
	case errors.SeverityWarning:
		h.logger.Warn(msg, args...)
	default:
		h.logger.Error(msg, args...)
	}
}

func (h *Host) recordPanic(where string, recovered any, stack []byte) {
	h.logger.Error("recovered panic", "where", where, "panic", recovered)
	if h.crash == nil {
		return
	}
	if err := h.crash.Record(where, recovered, stack); err != nil {
		h.logger.Error("failed to write crash log", "error", err)
	}
}

func (h *Host) stopResumeTimers() {
	for _, tm := range h.resumeTimers {
		tm.Stop()
	}
	h.resumeTimers = nil
}
