package host

import (
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/termhost/internal/activity"
	"github.com/Iron-Ham/termhost/internal/capture"
	"github.com/Iron-Ham/termhost/internal/errors"
	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/ptyproc"
	"github.com/Iron-Ham/termhost/internal/registry"
	"github.com/Iron-Ham/termhost/internal/transport"
)

// Handle executes one request. It must run on the event loop. Failures are
// published as error events; none of them stop the host.
func (h *Host) Handle(req Request) {
	var err error
	switch r := req.(type) {
	case SpawnRequest:
		err = h.handleSpawn(r)
	case WriteRequest:
		err = h.handleWrite(r)
	case ResizeRequest:
		err = h.handleResize(r)
	case KillRequest:
		err = h.handleKill(r)
	case TrashRequest:
		err = h.handleTrash(r)
	case RestoreRequest:
		err = h.handleRestore(r)
	case SetActivityTierRequest:
		err = h.handleSetTier(r)
	case AcknowledgeDataRequest:
		err = h.handleAcknowledge(r)
	case InitBuffersRequest:
		err = h.handleInitBuffers(r)
	case GetSnapshotRequest:
		err = h.handleGetSnapshot(r)
	case GetAllSnapshotsRequest:
		h.handleGetAllSnapshots(r)
	case PauseAllRequest:
		h.pauseAll()
	case ResumeAllRequest:
		h.resumeAll()
	case WakeStreamRequest:
		err = h.handleWakeStream(r)
	default:
		err = errors.NewProtocolError("unhandled request", errors.ErrUnknownMessage).WithMessageType(req.Type())
	}
	if err != nil {
		h.fail(req.Terminal(), req.Type(), err)
		return
	}
	h.metrics.Request(req.Type(), "ok")
}

func (h *Host) handleSpawn(r SpawnRequest) error {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := h.reg.Get(id); ok {
		return errors.NewAlreadyExistsError("terminal", id).WithCause(errors.ErrTerminalExists)
	}
	kind, err := registry.ParseKind(r.Kind)
	if err != nil {
		return errors.NewValidationError(err.Error()).WithField("kind").WithValue(r.Kind)
	}
	tier := registry.TierActive
	if r.Tier != "" {
		if tier, err = registry.ParseTier(r.Tier); err != nil {
			return errors.NewValidationError(err.Error()).WithField("tier").WithValue(r.Tier)
		}
	}
	if r.Cols < 0 || r.Rows < 0 {
		return errors.NewValidationError("terminal size must not be negative").
			WithField("cols/rows").WithValue([2]int{r.Cols, r.Rows})
	}

	output := capture.NewRingBuffer(h.cfg.CaptureBufferSize)
	var proc PTY
	cfg := h.activityConfig(kind, r.Activity)
	opts := []activity.Option{
		activity.WithPublisher(h.bus),
		activity.WithLogger(h.logger.WithComponent("activity")),
		activity.WithMetrics(h.metrics),
		activity.WithChildrenCheck(func() (bool, error) {
			if proc == nil {
				return false, nil
			}
			return proc.HasActiveChildren()
		}),
	}
	if len(cfg.PromptPatterns) > 0 {
		opts = append(opts, activity.WithSnapshot(func() []string {
			return output.Lines(h.cfg.SnapshotLines)
		}))
	}
	machine, err := activity.New(id, cfg, h.clock, opts...)
	if err != nil {
		return errors.NewValidationError(err.Error()).WithField("activity")
	}

	shell := r.Shell
	if shell == "" {
		shell = h.cfg.DefaultShell
	}
	proc, err = h.spawn(ptyproc.Options{
		Shell: shell,
		Args:  r.Args,
		Dir:   r.Cwd,
		Env:   r.Env,
		Cols:  r.Cols,
		Rows:  r.Rows,
	})
	if err != nil {
		machine.Dispose()
		h.bus.Publish(event.NewTerminalExitEvent(id, -1, "spawn-failed"))
		return errors.NewTerminalError("spawn failed", err).WithTerminalID(id).WithOperation("spawn")
	}

	t := &registry.Terminal{
		ID:         id,
		ProjectID:  r.ProjectID,
		Kind:       kind,
		Tier:       tier,
		CreatedAt:  h.clock.Now(),
		Process:    proc,
		SkipVisual: r.SkipVisual,
		Analysis:   r.Analysis,
		Activity:   machine,
		Output:     output,
	}
	if err := h.reg.Add(t); err != nil {
		machine.Dispose()
		_ = proc.Kill("SIGKILL")
		return err
	}
	h.gov.Admit(t)
	if h.sleeping {
		if _, err := t.Pause(registry.ReasonSystemSleep); err != nil {
			h.logger.WithTerminal(id).Warn("failed to pause process spawned during sleep", "error", err)
		}
	}

	h.logger.WithTerminal(id).Info("terminal spawned",
		"pid", proc.Pid(), "kind", kind.String(), "tier", tier.String(), "shell", shell)
	h.bus.Publish(event.NewTerminalPIDEvent(id, proc.Pid()))
	h.metrics.SetTerminals(h.reg.Len())
	h.startReader(t, proc)
	return nil
}

// activityConfig builds a terminal's activity configuration: request
// overrides first, then host configuration, then the kind's built-in
// profile for whatever is still empty.
func (h *Host) activityConfig(kind registry.Kind, o *ActivityOverrides) activity.Config {
	cfg := h.cfg.Activity
	if o != nil {
		if len(o.IgnoreInputs) > 0 {
			cfg.IgnoreInputs = o.IgnoreInputs
		}
		if len(o.WorkingPatterns) > 0 {
			cfg.WorkingPatterns = o.WorkingPatterns
		}
		if len(o.CompletionPatterns) > 0 {
			cfg.CompletionPatterns = o.CompletionPatterns
		}
		if len(o.PromptPatterns) > 0 {
			cfg.PromptPatterns = o.PromptPatterns
		}
		if o.RecoveryDelayMs != nil && *o.RecoveryDelayMs >= 0 {
			cfg.RecoveryDelay = time.Duration(*o.RecoveryDelayMs) * time.Millisecond
		}
	}
	return cfg.WithProfile(activity.ProfileFor(kind))
}

func (h *Host) handleWrite(r WriteRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	if _, err := t.Process.Write([]byte(r.Data)); err != nil {
		werr := errors.NewTerminalError("write failed", err).WithTerminalID(t.ID).WithOperation("write")
		// The exit event is already on its way.
		if errors.Is(err, errors.ErrProcessExited) {
			werr = werr.WithSeverity(errors.SeverityInfo)
		}
		return werr
	}
	t.LastInputAt = h.clock.Now()
	t.Activity.OnInput(r.Data)
	if r.TraceID != "" {
		h.logger.WithTerminal(t.ID).Debug("input written", "trace_id", r.TraceID, "bytes", len(r.Data))
	}
	return nil
}

func (h *Host) handleResize(r ResizeRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	if r.Cols <= 0 || r.Rows <= 0 {
		return errors.NewValidationError("terminal size must be positive").
			WithField("cols/rows").WithValue([2]int{r.Cols, r.Rows})
	}
	if err := t.Process.Resize(r.Cols, r.Rows); err != nil {
		return errors.NewTerminalError("resize failed", err).WithTerminalID(t.ID).WithOperation("resize")
	}
	t.Activity.OnResize()
	return nil
}

func (h *Host) handleKill(r KillRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	reason := r.Reason
	if reason == "" {
		reason = "killed"
	}
	return h.kill(t, reason, r.Signal)
}

// kill removes the terminal and signals its process. The exit event follows
// once the reader observes the process gone.
func (h *Host) kill(t *registry.Terminal, reason, signal string) error {
	t.ExitReason = reason
	h.reg.Remove(t.ID)
	h.metrics.SetTerminals(h.reg.Len())
	h.logger.WithTerminal(t.ID).Info("killing terminal", "reason", reason, "signal", signal)
	if err := t.Process.Kill(signal); err != nil {
		return errors.NewTerminalError("kill failed", err).WithTerminalID(t.ID).WithOperation("kill")
	}
	return nil
}

func (h *Host) handleTrash(r TrashRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	if t.Trashed {
		return nil
	}
	t.TrashSeq++
	id, gen, seq := t.ID, t.Gen, t.TrashSeq
	t.Trashed = true
	t.TrashExpiry = h.clock.Now().Add(h.cfg.TrashTTL)
	t.TrashTimer = h.clock.AfterFunc(h.cfg.TrashTTL, func() {
		cur, ok := h.reg.Lookup(id, gen)
		if !ok || !cur.Trashed || cur.TrashSeq != seq {
			return
		}
		cur.TrashTimer = nil
		if err := h.kill(cur, "trash-expired", ""); err != nil {
			h.fail(id, TypeTrash, err)
		}
	})
	return nil
}

func (h *Host) handleRestore(r RestoreRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	if t.TrashTimer != nil {
		t.TrashTimer.Stop()
		t.TrashTimer = nil
	}
	t.TrashSeq++
	t.Trashed = false
	t.TrashExpiry = time.Time{}
	return nil
}

func (h *Host) handleSetTier(r SetActivityTierRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	tier, err := registry.ParseTier(r.Tier)
	if err != nil {
		return errors.NewValidationError(err.Error()).WithField("tier").WithValue(r.Tier)
	}
	prev := t.Tier
	t.Tier = tier
	if prev == registry.TierBackground && tier == registry.TierActive {
		h.flow.Wake(t, "tier-active")
	}
	return nil
}

func (h *Host) handleAcknowledge(r AcknowledgeDataRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	if r.ByteCount < 0 {
		return errors.NewValidationError("byte count must not be negative").
			WithField("byteCount").WithValue(r.ByteCount)
	}
	h.flow.Acknowledge(t, r.ByteCount)
	return nil
}

func (h *Host) handleInitBuffers(r InitBuffersRequest) error {
	if h.flow.Transport() != nil {
		return errors.NewTransportError("shared buffers are already attached", errors.ErrBuffersInitialized)
	}
	tr, err := transport.Open(r.Handles())
	if err != nil {
		return err
	}
	if err := h.flow.SetTransport(tr); err != nil {
		_ = tr.Close()
		return err
	}
	return nil
}

func (h *Host) handleWakeStream(r WakeStreamRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	h.flow.Wake(t, "wake-stream")
	return nil
}

// pauseAll pauses every process ahead of system sleep. Terminals spawned
// while sleeping start paused.
func (h *Host) pauseAll() {
	h.sleeping = true
	h.stopResumeTimers()
	for _, t := range h.reg.All() {
		if _, err := t.Pause(registry.ReasonSystemSleep); err != nil {
			h.logger.WithTerminal(t.ID).Warn("failed to pause process for sleep", "error", err)
		}
	}
	h.logger.Info("all terminals paused for sleep", "count", h.reg.Len())
}

// resumeAll clears the sleep pause, one terminal every ResumeStagger so that
// processes do not all wake at once.
func (h *Host) resumeAll() {
	h.sleeping = false
	h.stopResumeTimers()
	for k, t := range h.reg.All() {
		if k == 0 || h.cfg.ResumeStagger == 0 {
			h.resumeFromSleep(t)
			continue
		}
		id, gen := t.ID, t.Gen
		h.resumeTimers = append(h.resumeTimers, h.clock.AfterFunc(time.Duration(k)*h.cfg.ResumeStagger, func() {
			if cur, ok := h.reg.Lookup(id, gen); ok {
				h.resumeFromSleep(cur)
			}
		}))
	}
	h.logger.Info("resuming terminals after sleep", "count", h.reg.Len(), "stagger", h.cfg.ResumeStagger)
}

func (h *Host) resumeFromSleep(t *registry.Terminal) {
	if _, err := t.Resume(registry.ReasonSystemSleep); err != nil {
		h.logger.WithTerminal(t.ID).Warn("failed to resume process after sleep", "error", err)
	}
}
