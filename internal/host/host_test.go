package host

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/termhost/internal/errors"
	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/logging"
	"github.com/Iron-Ham/termhost/internal/loop"
	"github.com/Iron-Ham/termhost/internal/ptyproc"
	"github.com/Iron-Ham/termhost/internal/registry"
	"github.com/Iron-Ham/termhost/internal/testutil"
	"github.com/Iron-Ham/termhost/internal/transport"
)

type harness struct {
	t     *testing.T
	clock *testutil.FakeClock
	mb    *testutil.Mailbox
	host  *Host
	rec   *testutil.Recorder

	mu      sync.Mutex
	procs   []*testutil.FakeProcess
	spawned []ptyproc.Options
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, clock: testutil.NewFakeClock(), mb: &testutil.Mailbox{}}

	cfg := DefaultConfig()
	cfg.GovernorEnabled = false
	cfg.DefaultShell = "/bin/sh"
	if mutate != nil {
		mutate(&cfg)
	}
	h.host = New(cfg,
		WithClock(h.clock),
		WithPoster(h.mb),
		WithSpawner(h.spawn))
	h.rec = testutil.NewRecorder(h.host.Bus())
	h.host.Start()
	t.Cleanup(func() {
		h.host.Stop()
		h.mb.Drain()
	})
	return h
}

func (h *harness) spawn(opts ptyproc.Options) (PTY, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spawned = append(h.spawned, opts)
	if opts.Shell == "/missing" {
		return nil, fmt.Errorf("%w: %s: no such file", errors.ErrSpawnFailed, opts.Shell)
	}
	p := testutil.NewFakeProcess(100 + len(h.procs))
	h.procs = append(h.procs, p)
	return p, nil
}

// proc returns the i-th spawned process.
func (h *harness) proc(i int) *testutil.FakeProcess {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.procs) {
		h.t.Fatalf("only %d processes spawned", len(h.procs))
	}
	return h.procs[i]
}

func (h *harness) send(msg string) {
	h.t.Helper()
	if !h.host.Submit([]byte(msg)) {
		h.t.Fatalf("Submit(%s) rejected", msg)
	}
	h.mb.Drain()
}

func (h *harness) terminal(id string) *registry.Terminal {
	h.t.Helper()
	t, ok := h.host.Registry().Get(id)
	if !ok {
		h.t.Fatalf("terminal %q not registered", id)
	}
	return t
}

// waitExit drains the mailbox until the terminal's exit event arrives.
func (h *harness) waitExit(id string) event.TerminalExitEvent {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mb.Drain()
		for _, e := range h.rec.OfType(event.TypeTerminalExit) {
			if exit := e.(event.TerminalExitEvent); exit.TerminalID == id {
				return exit
			}
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("no exit event for %q", id)
	return event.TerminalExitEvent{}
}

func (h *harness) lastError() event.HostErrorEvent {
	h.t.Helper()
	errs := h.rec.OfType(event.TypeHostError)
	if len(errs) == 0 {
		h.t.Fatal("no error event published")
	}
	return errs[len(errs)-1].(event.HostErrorEvent)
}

func TestHost_Spawn(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1","kind":"agent","projectId":"p1","cols":120,"rows":40,"cwd":"/tmp","args":["-l"]}`)

	pids := h.rec.OfType(event.TypeTerminalPID)
	if len(pids) != 1 {
		t.Fatalf("pid events = %d, want 1", len(pids))
	}
	if e := pids[0].(event.TerminalPIDEvent); e.TerminalID != "t1" || e.PID != 100 {
		t.Errorf("pid event = %+v, want t1/100", e)
	}

	term := h.terminal("t1")
	if term.Kind != registry.KindAgent || term.Tier != registry.TierActive || term.ProjectID != "p1" {
		t.Errorf("terminal = kind %v tier %v project %q", term.Kind, term.Tier, term.ProjectID)
	}
	opts := h.spawned[0]
	if opts.Shell != "/bin/sh" || opts.Dir != "/tmp" || opts.Cols != 120 || opts.Rows != 40 || len(opts.Args) != 1 {
		t.Errorf("spawn options = %+v", opts)
	}
}

func TestHost_SpawnGeneratesID(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn"}`)

	pids := h.rec.OfType(event.TypeTerminalPID)
	if len(pids) != 1 {
		t.Fatalf("pid events = %d, want 1", len(pids))
	}
	id := pids[0].(event.TerminalPIDEvent).TerminalID
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", id, err)
	}
}

func TestHost_SpawnErrors(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantCode string
	}{
		{"duplicate id", `{"type":"spawn","id":"t1"}`, "terminal-exists"},
		{"unknown kind", `{"type":"spawn","id":"t2","kind":"robot"}`, "invalid-input"},
		{"unknown tier", `{"type":"spawn","id":"t2","tier":"foreground"}`, "invalid-input"},
		{"negative size", `{"type":"spawn","id":"t2","cols":-1}`, "invalid-input"},
		{"bad pattern", `{"type":"spawn","id":"t2","activity":{"workingPatterns":["("]}}`, "invalid-input"},
		{"missing program", `{"type":"spawn","id":"t2","shell":"/missing"}`, "spawn-failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.send(`{"type":"spawn","id":"t1"}`)
			h.send(tt.msg)

			e := h.lastError()
			if e.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q (%s)", e.Code, tt.wantCode, e.Message)
			}
			if e.RequestType != TypeSpawn {
				t.Errorf("request type = %q, want spawn", e.RequestType)
			}
			if h.host.Registry().Len() != 1 {
				t.Errorf("registry has %d terminals, want 1", h.host.Registry().Len())
			}
		})
	}
}

func TestHost_SpawnFailurePublishesExit(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1","shell":"/missing"}`)

	exits := h.rec.OfType(event.TypeTerminalExit)
	if len(exits) != 1 {
		t.Fatalf("exit events = %d, want 1", len(exits))
	}
	if e := exits[0].(event.TerminalExitEvent); e.Reason != "spawn-failed" || e.ExitCode != -1 {
		t.Errorf("exit = %+v, want spawn-failed/-1", e)
	}
}

func TestHost_ActivityOverrides(t *testing.T) {
	h := newHarness(t, nil)
	delay := 0
	cfg := h.host.activityConfig(registry.KindAgent, &ActivityOverrides{
		PromptPatterns:  []string{`ready>`},
		RecoveryDelayMs: &delay,
	})
	if len(cfg.PromptPatterns) != 1 || cfg.PromptPatterns[0] != "ready>" {
		t.Errorf("prompt patterns = %q, want override", cfg.PromptPatterns)
	}
	if cfg.RecoveryDelay != 0 {
		t.Errorf("recovery delay = %v, want 0", cfg.RecoveryDelay)
	}
	if len(cfg.WorkingPatterns) == 0 {
		t.Error("working patterns should come from the agent profile")
	}
}

func TestHost_Write(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.clock.Advance(time.Second)
	h.send(`{"type":"write","id":"t1","data":"ls\r","traceId":"abc"}`)

	if got := h.proc(0).Written(); got != "ls\r" {
		t.Errorf("process received %q, want %q", got, "ls\r")
	}
	term := h.terminal("t1")
	if term.Activity.State() != "busy" {
		t.Errorf("activity = %s, want busy", term.Activity.State())
	}
	if !term.LastInputAt.Equal(h.clock.Now()) {
		t.Errorf("LastInputAt = %v, want %v", term.LastInputAt, h.clock.Now())
	}
	acts := h.rec.OfType(event.TypeTerminalActivity)
	if len(acts) != 1 || acts[0].(event.ActivityEvent).Trigger != "input" {
		t.Errorf("activity events = %+v, want one input transition", acts)
	}
}

func TestHost_WriteErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"write","id":"nope","data":"x"}`)
	if e := h.lastError(); e.Code != "terminal-not-found" || e.TerminalID != "nope" || e.RequestType != TypeWrite {
		t.Errorf("error = %+v, want terminal-not-found for nope", e)
	}

	h.send(`{"type":"spawn","id":"t1"}`)
	h.proc(0).SetWriteError(errors.ErrProcessExited)
	h.send(`{"type":"write","id":"t1","data":"x"}`)
	if e := h.lastError(); e.Code != "process-exited" {
		t.Errorf("error code = %q, want process-exited", e.Code)
	}
}

func TestHost_FailureClassification(t *testing.T) {
	h := newHarness(t, nil)
	logs := &testutil.SyncBuffer{}
	h.host.logger = logging.NewWriterLogger(logs, "debug")

	tests := []struct {
		name       string
		setup      func()
		msg        string
		code       string
		level      string
		retryable  bool
		userFacing bool
	}{
		{
			name:       "unknown terminal",
			msg:        `{"type":"write","id":"nope","data":"x"}`,
			code:       "terminal-not-found",
			level:      "WARN",
			userFacing: true,
		},
		{
			name: "write after exit",
			setup: func() {
				h.send(`{"type":"spawn","id":"t1"}`)
				h.proc(0).SetWriteError(errors.ErrProcessExited)
			},
			msg:        `{"type":"write","id":"t1","data":"x"}`,
			code:       "process-exited",
			level:      "INFO",
			userFacing: true,
		},
		{
			name:      "buffer not created yet",
			msg:       `{"type":"init-buffers","shardHandles":["/nonexistent/shard"],"signalHandle":"/nonexistent/signal"}`,
			code:      "transport",
			level:     "ERROR",
			retryable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			before := len(logs.String())
			h.send(tt.msg)

			e := h.lastError()
			if e.Code != tt.code || e.Retryable != tt.retryable || e.UserFacing != tt.userFacing {
				t.Errorf("error = %+v, want code %s retryable=%v userFacing=%v",
					e, tt.code, tt.retryable, tt.userFacing)
			}
			logged := logs.String()[before:]
			if !strings.Contains(logged, `"level":"`+tt.level+`"`) || !strings.Contains(logged, `"code":"`+tt.code+`"`) {
				t.Errorf("failure not logged at %s:\n%s", tt.level, logged)
			}
		})
	}
}

func TestHost_Resize(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"resize","id":"t1","cols":100,"rows":30}`)
	h.send(`{"type":"resize","id":"t1","cols":0,"rows":30}`)

	got := h.proc(0).Resizes()
	if len(got) != 1 || got[0] != [2]int{100, 30} {
		t.Errorf("resizes = %v, want [[100 30]]", got)
	}
	if e := h.lastError(); e.Code != "invalid-input" {
		t.Errorf("error code = %q, want invalid-input", e.Code)
	}
}

func TestHost_Kill(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"kill","id":"t1","signal":"SIGTERM"}`)

	if _, ok := h.host.Registry().Get("t1"); ok {
		t.Error("killed terminal is still registered")
	}
	if got := h.proc(0).Signals(); len(got) != 1 || got[0] != "SIGTERM" {
		t.Errorf("signals = %v, want [SIGTERM]", got)
	}
	exit := h.waitExit("t1")
	if exit.Reason != "killed" || exit.ExitCode != -1 {
		t.Errorf("exit = %+v, want killed/-1", exit)
	}

	h.send(`{"type":"kill","id":"t1"}`)
	if e := h.lastError(); e.Code != "terminal-not-found" {
		t.Errorf("second kill error = %q, want terminal-not-found", e.Code)
	}
	if n := h.rec.Count(event.TypeTerminalExit); n != 1 {
		t.Errorf("exit events = %d, want 1", n)
	}
}

func TestHost_ProcessExit(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.proc(0).Exit(3)

	exit := h.waitExit("t1")
	if exit.Reason != "exit" || exit.ExitCode != 3 {
		t.Errorf("exit = %+v, want exit/3", exit)
	}
	if h.host.Registry().Len() != 0 {
		t.Error("exited terminal is still registered")
	}

	// The ID is free again.
	h.send(`{"type":"spawn","id":"t1"}`)
	if h.host.Registry().Len() != 1 {
		t.Error("respawn with a reused ID failed")
	}
}

func TestHost_OutputFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.clock.Advance(time.Second)
	h.proc(0).Emit([]byte("hello\r\nworld"))
	h.mb.Drain()

	data := h.rec.OfType(event.TypeTerminalData)
	if len(data) != 1 || string(data[0].(event.TerminalDataEvent).Data) != "hello\r\nworld" {
		t.Fatalf("data events = %+v", data)
	}
	term := h.terminal("t1")
	if !term.LastOutputAt.Equal(h.clock.Now()) {
		t.Errorf("LastOutputAt = %v, want %v", term.LastOutputAt, h.clock.Now())
	}
	if got := term.Output.Lines(2); len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Errorf("captured lines = %q", got)
	}
}

func TestHost_OutputAfterKillIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	term := h.terminal("t1")
	h.host.Handle(KillRequest{target: target{ID: "t1"}})
	h.host.onData(term, []byte("late"))

	if n := h.rec.Count(event.TypeTerminalData); n != 0 {
		t.Errorf("data events = %d, want 0 after kill", n)
	}
	h.waitExit("t1")
}

func TestHost_TrashExpiry(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TrashTTL = time.Minute })
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"trash","id":"t1"}`)

	term := h.terminal("t1")
	if !term.Trashed || !term.TrashExpiry.Equal(h.clock.Now().Add(time.Minute)) {
		t.Errorf("trashed = %v, expiry = %v", term.Trashed, term.TrashExpiry)
	}
	h.clock.Advance(time.Minute - time.Millisecond)
	if _, ok := h.host.Registry().Get("t1"); !ok {
		t.Fatal("terminal killed before its trash expired")
	}
	h.clock.Advance(time.Millisecond)
	if exit := h.waitExit("t1"); exit.Reason != "trash-expired" {
		t.Errorf("exit reason = %q, want trash-expired", exit.Reason)
	}
}

func TestHost_TrashRestore(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TrashTTL = time.Minute })
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"trash","id":"t1"}`)
	h.clock.Advance(30 * time.Second)
	h.send(`{"type":"restore","id":"t1"}`)
	h.clock.Advance(5 * time.Minute)

	term := h.terminal("t1")
	if term.Trashed || term.TrashTimer != nil {
		t.Error("restored terminal is still trashed")
	}
	if got := h.proc(0).Signals(); len(got) != 0 {
		t.Errorf("restored terminal was signalled: %v", got)
	}
}

func TestHost_TrashTimerIgnoresNewTerminal(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TrashTTL = time.Minute })
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"trash","id":"t1"}`)
	h.send(`{"type":"kill","id":"t1"}`)
	h.waitExit("t1")
	h.send(`{"type":"spawn","id":"t1"}`)
	h.clock.Advance(2 * time.Minute)

	if _, ok := h.host.Registry().Get("t1"); !ok {
		t.Error("stale trash timer killed a new terminal with the same ID")
	}
}

// recordingClock keeps every scheduled callback so a test can run one after
// its timer was stopped, as happens when a real timer has already posted to
// the loop.
type recordingClock struct {
	*testutil.FakeClock
	callbacks []func()
}

func (c *recordingClock) AfterFunc(d time.Duration, f func()) loop.Timer {
	c.callbacks = append(c.callbacks, f)
	return c.FakeClock.AfterFunc(d, f)
}

func TestHost_StaleTrashCallbackAfterRestore(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TrashTTL = time.Minute })
	h.send(`{"type":"spawn","id":"t1"}`)
	clock := &recordingClock{FakeClock: h.clock}
	h.host.clock = clock

	h.send(`{"type":"trash","id":"t1"}`)
	if len(clock.callbacks) != 1 {
		t.Fatalf("scheduled %d callbacks, want 1", len(clock.callbacks))
	}
	first := clock.callbacks[0]

	h.clock.Advance(30 * time.Second)
	h.send(`{"type":"restore","id":"t1"}`)
	h.send(`{"type":"trash","id":"t1"}`)
	first()
	h.mb.Drain()

	if _, ok := h.host.Registry().Get("t1"); !ok {
		t.Fatal("expiry from the first trash killed the re-trashed terminal")
	}
	if got := h.proc(0).Signals(); len(got) != 0 {
		t.Errorf("terminal was signalled early: %v", got)
	}

	h.clock.Advance(time.Minute)
	if exit := h.waitExit("t1"); exit.Reason != "trash-expired" {
		t.Errorf("exit reason = %q, want trash-expired", exit.Reason)
	}
}

func TestHost_TierWake(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1","tier":"background"}`)
	term := h.terminal("t1")
	term.Stream.State = registry.FlowSuspended

	h.send(`{"type":"set-activity-tier","id":"t1","tier":"active"}`)

	if term.Tier != registry.TierActive || term.Stream.State != registry.FlowRunning {
		t.Errorf("tier = %v, stream = %v, want active/running", term.Tier, term.Stream.State)
	}
	statuses := h.rec.OfType(event.TypeTerminalStatus)
	if len(statuses) != 1 {
		t.Fatalf("status events = %d, want 1", len(statuses))
	}
	if s := statuses[0].(event.TerminalStatusEvent); s.Status != "running" || s.Reason != "tier-active" {
		t.Errorf("status = %+v, want running/tier-active", s)
	}

	h.send(`{"type":"set-activity-tier","id":"t1","tier":"sideways"}`)
	if e := h.lastError(); e.Code != "invalid-input" {
		t.Errorf("error code = %q, want invalid-input", e.Code)
	}
}

func TestHost_WakeStream(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1","tier":"background"}`)
	term := h.terminal("t1")
	term.Stream.State = registry.FlowSuspended

	h.send(`{"type":"wake-stream","id":"t1"}`)

	if term.Tier != registry.TierBackground || term.Stream.State != registry.FlowRunning {
		t.Errorf("tier = %v, stream = %v, want background/running", term.Tier, term.Stream.State)
	}
	statuses := h.rec.OfType(event.TypeTerminalStatus)
	if len(statuses) != 1 || statuses[0].(event.TerminalStatusEvent).Reason != "wake-stream" {
		t.Errorf("status events = %+v", statuses)
	}
}

func TestHost_AcknowledgeData(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.clock.Advance(time.Second)
	h.proc(0).Emit([]byte("0123456789"))
	h.mb.Drain()

	term := h.terminal("t1")
	if term.Stream.FallbackQueued != 10 {
		t.Fatalf("FallbackQueued = %d, want 10", term.Stream.FallbackQueued)
	}
	h.send(`{"type":"acknowledge-data","id":"t1","byteCount":4}`)
	if term.Stream.FallbackQueued != 6 {
		t.Errorf("FallbackQueued = %d, want 6", term.Stream.FallbackQueued)
	}
	h.send(`{"type":"acknowledge-data","id":"t1","byteCount":-1}`)
	if e := h.lastError(); e.Code != "invalid-input" {
		t.Errorf("error code = %q, want invalid-input", e.Code)
	}
}

func TestHost_InitBuffers(t *testing.T) {
	h := newHarness(t, nil)
	handles, err := transport.Create(t.TempDir(), "test", 2, 4096, 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	msg := fmt.Sprintf(`{"type":"init-buffers","shardHandles":[%q,%q],"signalHandle":%q,"analysisHandle":%q}`,
		handles.Shards[0], handles.Shards[1], handles.Signal, handles.Analysis)

	h.send(msg)
	if n := h.rec.Count(event.TypeHostError); n != 0 {
		t.Fatalf("init-buffers failed: %+v", h.lastError())
	}
	tr := h.host.Flow().Transport()
	if tr == nil || tr.ShardCount() != 2 || !tr.HasAnalysis() {
		t.Fatalf("transport not attached as requested")
	}

	h.send(msg)
	if e := h.lastError(); e.Code != "buffers-initialized" {
		t.Errorf("second init error = %q, want buffers-initialized", e.Code)
	}

	// Output now goes through the rings, not the fallback channel.
	h.send(`{"type":"spawn","id":"t1"}`)
	h.proc(0).Emit([]byte("ring output"))
	h.mb.Drain()
	if n := h.rec.Count(event.TypeTerminalData); n != 0 {
		t.Errorf("fallback data events = %d, want 0", n)
	}
	if tr.Shard(tr.ShardFor("t1")).Len() == 0 {
		t.Error("nothing written to the terminal's shard")
	}
}

func TestHost_InitBuffersBadHandle(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"init-buffers","shardHandles":["/nonexistent/shard"],"signalHandle":"/nonexistent/signal"}`)

	if e := h.lastError(); e.Code != "transport" || e.RequestType != TypeInitBuffers {
		t.Errorf("error = %+v, want transport error", e)
	}
	if h.host.Flow().Transport() != nil {
		t.Error("failed init attached a transport")
	}
}

func TestHost_Snapshots(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"b","kind":"agent","tier":"background"}`)
	h.send(`{"type":"spawn","id":"a"}`)
	h.proc(1).Emit([]byte("$ echo hi\r\nhi\r\n$ "))
	h.mb.Drain()

	h.send(`{"type":"get-snapshot","id":"a","requestId":"r1"}`)
	snaps := h.rec.OfType(event.TypeTerminalSnapshot)
	if len(snaps) != 1 {
		t.Fatalf("snapshot events = %d, want 1", len(snaps))
	}
	e := snaps[0].(event.SnapshotEvent)
	if e.RequestID != "r1" {
		t.Errorf("request id = %q, want r1", e.RequestID)
	}
	s := e.Snapshot
	if s.TerminalID != "a" || s.Kind != "shell" || s.PID != 101 || s.Tier != "active" ||
		s.Activity != "idle" || s.Stream != "running" {
		t.Errorf("snapshot = %+v", s)
	}
	if len(s.Lines) != 3 || s.Lines[1] != "hi" {
		t.Errorf("snapshot lines = %q", s.Lines)
	}

	h.send(`{"type":"get-all-snapshots","requestId":"r2"}`)
	all := h.rec.OfType(event.TypeTerminalSnapshots)
	if len(all) != 1 {
		t.Fatalf("snapshots events = %d, want 1", len(all))
	}
	list := all[0].(event.SnapshotsEvent).Snapshots
	if len(list) != 2 || list[0].TerminalID != "a" || list[1].TerminalID != "b" {
		t.Errorf("snapshots = %+v, want a then b", list)
	}
	if list[1].Kind != "agent" || list[1].Tier != "background" || list[1].Lines == nil {
		t.Errorf("snapshot b = %+v", list[1])
	}

	h.send(`{"type":"get-snapshot","id":"zzz"}`)
	if e := h.lastError(); e.Code != "terminal-not-found" {
		t.Errorf("error code = %q, want terminal-not-found", e.Code)
	}
}

func TestHost_PauseResumeAllStaggered(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []string{"t1", "t2", "t3"} {
		h.send(fmt.Sprintf(`{"type":"spawn","id":%q}`, id))
	}
	h.send(`{"type":"pause-all"}`)
	h.send(`{"type":"spawn","id":"t4"}`)

	for i := 0; i < 4; i++ {
		if !h.proc(i).Paused() {
			t.Errorf("process %d not paused for sleep", i)
		}
	}

	h.send(`{"type":"resume-all"}`)
	paused := func() []bool {
		out := make([]bool, 4)
		for i := range out {
			out[i] = h.proc(i).Paused()
		}
		return out
	}
	want := [][]bool{
		{false, true, true, true},
		{false, false, true, true},
		{false, false, false, true},
		{false, false, false, false},
	}
	for k, w := range want {
		if k > 0 {
			h.clock.Advance(h.host.cfg.ResumeStagger - time.Millisecond)
			if got := paused(); got[k] != true {
				t.Errorf("process %d resumed before %v", k, time.Duration(k)*h.host.cfg.ResumeStagger)
			}
			h.clock.Advance(time.Millisecond)
		}
		if got := paused(); fmt.Sprint(got) != fmt.Sprint(w) {
			t.Errorf("after %v paused = %v, want %v", time.Duration(k)*h.host.cfg.ResumeStagger, got, w)
		}
	}
}

func TestHost_ResumeAllKeepsOtherPauseReasons(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	term := h.terminal("t1")
	if _, err := term.Pause(registry.ReasonBackpressure); err != nil {
		t.Fatal(err)
	}

	h.send(`{"type":"pause-all"}`)
	h.send(`{"type":"resume-all"}`)

	if !h.proc(0).Paused() || !term.PausedBy(registry.ReasonBackpressure) {
		t.Error("resume-all cleared a backpressure pause")
	}
	if term.PausedBy(registry.ReasonSystemSleep) {
		t.Error("sleep reason still set after resume-all")
	}
	if n := h.proc(0).PauseCount(); n != 1 {
		t.Errorf("Pause called %d times, want 1", n)
	}
}

func TestHost_PauseAllCancelsPendingResumes(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"spawn","id":"t2"}`)
	h.send(`{"type":"pause-all"}`)
	h.send(`{"type":"resume-all"}`)
	h.send(`{"type":"pause-all"}`)
	h.clock.Advance(time.Second)

	if !h.proc(1).Paused() {
		t.Error("a resume scheduled before the second sleep still ran")
	}
}

func TestHost_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantCode string
		wantType string
		wantID   string
	}{
		{"not json", `not json`, "malformed-message", "", ""},
		{"no type", `{"id":"t1"}`, "malformed-message", "", "t1"},
		{"unknown type", `{"type":"frobnicate","id":"t1"}`, "unknown-message", "frobnicate", "t1"},
		{"wrong field type", `{"type":"resize","id":"t1","cols":"wide"}`, "malformed-message", "resize", "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.send(tt.msg)

			e := h.lastError()
			if e.Code != tt.wantCode || e.RequestType != tt.wantType || e.TerminalID != tt.wantID {
				t.Errorf("error = %+v, want %s/%q/%q", e, tt.wantCode, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestHost_StopKillsEverything(t *testing.T) {
	h := newHarness(t, nil)
	h.send(`{"type":"spawn","id":"t1"}`)
	h.send(`{"type":"spawn","id":"t2"}`)

	h.host.Stop()
	h.mb.Drain()

	for i := 0; i < 2; i++ {
		if got := h.proc(i).Signals(); len(got) != 1 || got[0] != "SIGHUP" {
			t.Errorf("process %d signals = %v, want [SIGHUP]", i, got)
		}
	}
	exits := h.rec.OfType(event.TypeTerminalExit)
	if len(exits) != 2 {
		t.Fatalf("exit events = %d, want 2", len(exits))
	}
	for _, e := range exits {
		if r := e.(event.TerminalExitEvent).Reason; r != "shutdown" {
			t.Errorf("exit reason = %q, want shutdown", r)
		}
	}
}

func TestHost_SetActivityConfig(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.host.cfg.Activity
	cfg.PromptPatterns = []string{`custom>`}
	h.host.SetActivityConfig(cfg)
	h.host.SetReliabilityMetrics(true)
	h.mb.Drain()

	got := h.host.activityConfig(registry.KindShell, nil)
	if len(got.PromptPatterns) != 1 || got.PromptPatterns[0] != "custom>" {
		t.Errorf("prompt patterns = %q, want [custom>]", got.PromptPatterns)
	}
	if !h.host.Flow().Config().ReliabilityEvents {
		t.Error("reliability events not enabled")
	}
}

func TestHost_HandlerPanicIsRecorded(t *testing.T) {
	dir := t.TempDir()
	crash := logging.NewCrashLog(dir)
	mb := &testutil.Mailbox{}
	cfg := DefaultConfig()
	cfg.GovernorEnabled = false
	h := New(cfg,
		WithClock(testutil.NewFakeClock()),
		WithPoster(mb),
		WithCrashLog(crash),
		WithSpawner(func(ptyproc.Options) (PTY, error) { return testutil.NewFakeProcess(7), nil }))
	t.Cleanup(func() {
		h.Stop()
		mb.Drain()
	})

	h.Bus().Subscribe(event.TypeTerminalPID, func(event.Event) { panic("subscriber bug") })
	h.Submit([]byte(`{"type":"spawn","id":"t1","shell":"/bin/sh"}`))
	mb.Drain()

	// The host keeps serving after the panic
	if _, ok := h.Registry().Get("t1"); !ok {
		t.Fatal("terminal not registered after subscriber panic")
	}
	data, err := os.ReadFile(crash.Path())
	if err != nil {
		t.Fatalf("crash log not written: %v", err)
	}
	for _, want := range []string{"where=event handler " + event.TypeTerminalPID, "panic: subscriber bug"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("crash log missing %q:\n%s", want, data)
		}
	}
}
