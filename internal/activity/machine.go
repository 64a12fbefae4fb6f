package activity

import (
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/logging"
	"github.com/Iron-Ham/termhost/internal/loop"
	"github.com/Iron-Ham/termhost/internal/metrics"
	"github.com/Iron-Ham/termhost/internal/registry"
)

// promptScanLines is how many trailing snapshot lines are searched for a
// prompt.
const promptScanLines = 5

// Check is an external probe such as "does the process have running
// children". An error means the answer is unknown.
type Check func() (bool, error)

// Publisher receives activity events.
type Publisher interface {
	Publish(e event.Event)
}

// Machine tracks one terminal's activity state. It implements
// registry.ActivityTracker and, like the rest of the terminal record, is
// driven only from the host's event loop.
type Machine struct {
	id      string
	cfg     Config
	clock   loop.Clock
	pub     Publisher
	logger  *logging.Logger
	metrics *metrics.Recorder

	working    matcher
	completion matcher
	prompts    matcher

	children Check
	cpu      Check
	snapshot func() []string

	state      State
	input      inputParser
	window     outputWindow
	volume     rateWindow
	rewrites   rewriteTracker
	startedAt  time.Time
	submitted  bool
	confirming bool
	confirmAt  time.Time

	lastKeystroke time.Time
	lastOutput    time.Time
	lastSignal    time.Time
	resizeUntil   time.Time

	recoveryStart time.Time
	recoveryLast  time.Time

	idleTimer loop.Timer
	holdTimer loop.Timer
	timerSeq  uint64
	disposed  bool
}

var _ registry.ActivityTracker = (*Machine)(nil)

// Option configures a Machine.
type Option func(*Machine)

// WithPublisher sets where transitions are published.
func WithPublisher(p Publisher) Option {
	return func(m *Machine) { m.pub = p }
}

// WithChildrenCheck sets the probe consulted before declaring idle and after
// a sleep gap.
func WithChildrenCheck(c Check) Option {
	return func(m *Machine) { m.children = c }
}

// WithCPUCheck gates volume-based recovery on the process actually using CPU.
func WithCPUCheck(c Check) Option {
	return func(m *Machine) { m.cpu = c }
}

// WithSnapshot sets an accessor for the terminal's visible lines. It is only
// consulted when prompt patterns are configured.
func WithSnapshot(f func() []string) Option {
	return func(m *Machine) { m.snapshot = f }
}

// WithLogger sets the machine's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithMetrics counts transitions in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Machine) { m.metrics = r }
}

// New creates a Machine in the idle state. It fails if a pattern does not
// compile.
func New(terminalID string, cfg Config, clock loop.Clock, opts ...Option) (*Machine, error) {
	cfg = cfg.withDefaults()
	m := &Machine{
		id:        terminalID,
		cfg:       cfg,
		clock:     clock,
		logger:    logging.NopLogger(),
		state:     StateIdle,
		window:    outputWindow{size: cfg.WindowSize},
		volume:    rateWindow{window: cfg.VolumeWindow},
		rewrites:  rewriteTracker{window: cfg.RewriteWindow, count: cfg.RewriteCount},
		startedAt: clock.Now(),
	}
	var err error
	if m.working, err = compilePatterns(cfg.WorkingPatterns); err != nil {
		return nil, fmt.Errorf("working patterns: %w", err)
	}
	if m.completion, err = compilePatterns(cfg.CompletionPatterns); err != nil {
		return nil, fmt.Errorf("completion patterns: %w", err)
	}
	if m.prompts, err = compilePatterns(cfg.PromptPatterns); err != nil {
		return nil, fmt.Errorf("prompt patterns: %w", err)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current state name.
func (m *Machine) State() string {
	return m.state.String()
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.state
}

// OnInput handles bytes written to the terminal by the user.
func (m *Machine) OnInput(data string) {
	if m.disposed || data == "" {
		return
	}
	now := m.clock.Now()
	m.lastKeystroke = now

	if slices.Contains(m.cfg.IgnoreInputs, data) {
		return
	}
	for _, sub := range m.input.feed(data) {
		m.submitted = true
		if strings.TrimSpace(sub.line) == "" && !m.prompts.Empty() {
			// An empty Enter may or may not start work; let the next
			// output decide without the usual guards.
			m.confirming = true
			m.confirmAt = now
			continue
		}
		m.confirming = false
		m.toBusy(TriggerInput, 1)
	}
}

// OnOutput handles bytes the process wrote to the terminal.
func (m *Machine) OnOutput(data []byte) {
	if m.disposed || len(data) == 0 {
		return
	}
	now := m.clock.Now()

	if m.state == StateBusy && !m.lastOutput.IsZero() && now.Sub(m.lastOutput) > m.cfg.SleepGap {
		m.revalidate(now)
	}
	m.lastOutput = now

	scan := StripANSI(string(m.window.append(data)))
	m.volume.add(now, len(data))
	rewriting := m.rewrites.observe(now, data)

	if !m.submitted && now.Sub(m.startedAt) < m.cfg.BootGrace {
		return
	}

	if m.state == StateBusy && m.completion.Match(scan) {
		m.toCompleted()
		return
	}

	trigger, ok := m.signal(now, scan, rewriting)
	if !ok {
		return
	}
	m.onSignal(now, trigger)
}

// signal classifies output as a working signal, strongest first.
func (m *Machine) signal(now time.Time, scan string, rewriting bool) (Trigger, bool) {
	switch {
	case m.working.Match(scan):
		return TriggerPattern, true
	case rewriting:
		return TriggerRewrite, true
	case m.volume.rate(now) >= m.cfg.VolumeThreshold:
		if m.cpu != nil && m.state != StateBusy && !m.probe("cpu", m.cpu) {
			return 0, false
		}
		return TriggerVolume, true
	}
	return 0, false
}

func (m *Machine) onSignal(now time.Time, trigger Trigger) {
	if m.state == StateBusy {
		m.lastSignal = now
		return
	}
	if now.Before(m.resizeUntil) {
		return
	}
	if m.state == StateCompleted {
		if m.echoGuard(now) {
			m.toBusy(trigger, confidence(trigger))
		}
		return
	}

	// Output shortly after an empty Enter confirms it started work. Later
	// output goes through the normal recovery path.
	if m.confirming {
		m.confirming = false
		if now.Sub(m.confirmAt) <= m.cfg.SilenceDebounce {
			m.toBusy(trigger, confidence(trigger))
			return
		}
	}
	if !m.echoGuard(now) {
		return
	}
	if m.recoveryStart.IsZero() || now.Sub(m.recoveryLast) > m.cfg.RecoveryGap {
		m.recoveryStart = now
	}
	m.recoveryLast = now
	if now.Sub(m.recoveryStart) >= m.cfg.RecoveryDelay {
		m.toBusy(trigger, confidence(trigger))
	}
}

// echoGuard reports whether output can be trusted as work rather than the
// echo of recent typing.
func (m *Machine) echoGuard(now time.Time) bool {
	return m.lastKeystroke.IsZero() || now.Sub(m.lastKeystroke) > m.cfg.InputEchoWindow
}

// OnResize starts or extends the resize suppression window.
func (m *Machine) OnResize() {
	if m.disposed {
		return
	}
	m.resizeUntil = m.clock.Now().Add(m.cfg.ResizeSuppression)
	m.recoveryStart = time.Time{}
	m.rewrites.reset()
}

// Dispose stops all timers. The machine ignores every later call.
func (m *Machine) Dispose() {
	m.disposed = true
	m.stopTimers()
}

func (m *Machine) toBusy(trigger Trigger, conf float64) {
	now := m.clock.Now()
	m.lastSignal = now
	m.recoveryStart = time.Time{}
	if m.state == StateBusy {
		return
	}
	m.stopTimers()
	m.transition(StateBusy, trigger, conf)
	m.armIdle(m.cfg.SilenceDebounce)
}

func (m *Machine) toCompleted() {
	m.stopTimers()
	m.transition(StateCompleted, TriggerCompletion, 1)
	seq := m.timerSeq
	m.holdTimer = m.clock.AfterFunc(m.cfg.CompletedHold, func() {
		if m.disposed || seq != m.timerSeq || m.state != StateCompleted {
			return
		}
		m.holdTimer = nil
		m.transition(StateIdle, TriggerHoldExpired, 1)
	})
}

func (m *Machine) toIdle(trigger Trigger) {
	m.stopTimers()
	m.confirming = false
	m.recoveryStart = time.Time{}
	m.transition(StateIdle, trigger, 1)
}

func (m *Machine) armIdle(d time.Duration) {
	seq := m.timerSeq
	m.idleTimer = m.clock.AfterFunc(d, func() {
		if m.disposed || seq != m.timerSeq {
			return
		}
		m.idleTimer = nil
		m.checkIdle()
	})
}

// checkIdle runs when a busy terminal may have gone quiet.
func (m *Machine) checkIdle() {
	if m.state != StateBusy {
		return
	}
	now := m.clock.Now()
	if quiet := now.Sub(m.lastSignal); quiet < m.cfg.SilenceDebounce {
		m.armIdle(m.cfg.SilenceDebounce - quiet)
		return
	}

	if m.children != nil && m.probe("children", m.children) {
		m.logger.Debug("idle deferred", "cause", "active-children")
		m.armIdle(m.cfg.SilenceDebounce)
		return
	}
	if m.volume.rate(now) >= m.cfg.HighOutputThreshold {
		m.logger.Debug("idle deferred", "cause", "high-output")
		m.armIdle(m.cfg.SilenceDebounce)
		return
	}
	if visible, known := m.promptVisible(); known && !visible {
		m.logger.Debug("idle deferred", "cause", "no-prompt")
		m.armIdle(m.cfg.SilenceDebounce)
		return
	}
	m.toIdle(TriggerSilence)
}

// revalidate re-checks a busy state after the host itself may have slept.
func (m *Machine) revalidate(now time.Time) {
	gap := now.Sub(m.lastOutput)
	active := true
	switch {
	case m.children != nil:
		active = m.probe("children", m.children)
	default:
		if visible, known := m.promptVisible(); known {
			active = !visible
		}
	}
	m.logger.Info("revalidated busy state after output gap", "gap_ms", gap.Milliseconds(), "active", active)
	if !active {
		m.toIdle(TriggerSleepRevalidate)
	}
}

// promptVisible reports whether a prompt shows in the snapshot. known is
// false when there is nothing to look at.
func (m *Machine) promptVisible() (visible, known bool) {
	if m.snapshot == nil || m.prompts.Empty() {
		return false, false
	}
	lines := m.snapshot()
	for i := range lines {
		lines[i] = StripANSI(lines[i])
	}
	for _, line := range lastNonEmptyLines(lines, promptScanLines) {
		if m.prompts.Match(line) {
			return true, true
		}
	}
	return false, true
}

// probe runs an external check. Errors and panics count as active.
func (m *Machine) probe(name string, c Check) (active bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("activity check panicked", "check", name, "panic", r, "stack", string(debug.Stack()))
			active = true
		}
	}()
	active, err := c()
	if err != nil {
		m.logger.Debug("activity check failed", "check", name, "error", err)
		return true
	}
	return active
}

func (m *Machine) stopTimers() {
	m.timerSeq++
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	if m.holdTimer != nil {
		m.holdTimer.Stop()
		m.holdTimer = nil
	}
}

func (m *Machine) transition(to State, trigger Trigger, conf float64) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.Debug("activity transition", "from", from.String(), "to", to.String(), "trigger", trigger.String())
	m.metrics.Transition(to.String(), trigger.String())
	if m.pub != nil {
		m.pub.Publish(event.NewActivityEvent(m.id, from.String(), to.String(), trigger.String(), conf))
	}
}

func confidence(t Trigger) float64 {
	switch t {
	case TriggerPattern:
		return 0.9
	case TriggerRewrite:
		return 0.7
	default:
		return 0.6
	}
}
