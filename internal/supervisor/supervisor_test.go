package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dbmigration/keeper/internal/config"
	kerrors "github.com/dbmigration/keeper/internal/errors"
	"github.com/dbmigration/keeper/internal/logbuf"
	"github.com/dbmigration/keeper/internal/logging"
	"github.com/dbmigration/keeper/internal/process"
)

// fakeFS supplies the loader with a controlled environment.
type fakeFS struct {
	env map[string]string
}

func (f *fakeFS) Exists(string) bool { return false }
func (f *fakeFS) Home() string       { return "" }

func (f *fakeFS) ReadEnv(string) (map[string]string, error) {
	return nil, fmt.Errorf("no env files")
}

func (f *fakeFS) ReadFile(string) ([]byte, error) {
	return nil, fmt.Errorf("no files")
}
func (f *fakeFS) Getenv(key string) (string, bool) {
	v, ok := f.env[key]
	return v, ok
}

// testEnv returns a complete environment with tunables fast enough for tests.
func testEnv() map[string]string {
	return map[string]string{
		config.KeyAnthropicAPIKey: "sk-ant-test-1234",
		config.KeyAdminEmail:      "admin@example.com",
		config.KeyAdminPassword:   "hunter22",
		config.KeyHealthInterval:  "10ms",
		config.KeyHealthTimeout:   "10ms",
		config.KeyHealthThreshold: "3",
		config.KeyStartupTimeout:  "200ms",
		config.KeyStopGrace:       "50ms",
		config.KeyRestartBudget:   "2",
		config.KeyRestartBackoff:  "1ms",
	}
}

func testLoader(env map[string]string) Loader {
	return func() (*config.Resolved, error) {
		return config.Load(config.WithFileSystem(&fakeFS{env: env}))
	}
}

// fakeHandle is a controllable child process stand-in.
type fakeHandle struct {
	pid     int
	started time.Time

	mu       sync.Mutex
	done     chan struct{}
	exited   bool
	exitCode int
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, started: time.Now(), done: make(chan struct{})}
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) StartedAt() time.Time  { return h.started }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *fakeHandle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

func (h *fakeHandle) exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		h.exited = true
		h.exitCode = code
		close(h.done)
	}
}

func (h *fakeHandle) Terminate() (bool, error) {
	h.exit(-1)
	return false, nil
}

// fakeLauncher counts spawns and hands out fresh handles.
type fakeLauncher struct {
	mu      sync.Mutex
	spawned int
	failErr error
	handles []*fakeHandle
}

func (l *fakeLauncher) launch(cmd process.Command, stdout, stderr io.Writer) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return nil, l.failErr
	}
	l.spawned++
	h := newFakeHandle(1000 + l.spawned)
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) spawnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spawned
}

func (l *fakeLauncher) lastHandle() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

// fakeProber reports health from a shared flag.
type fakeProber struct {
	healthy *atomic.Bool
}

func (p *fakeProber) URL() string { return "http://127.0.0.1:8501/_stcore/health" }

func (p *fakeProber) Probe(ctx context.Context) error {
	if p.healthy.Load() {
		return nil
	}
	return fmt.Errorf("probe: connection refused")
}

func (p *fakeProber) WaitHealthy(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if p.Probe(ctx) == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("probe: not healthy after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	healthy  *atomic.Bool
	logs     *logbuf.Buffer
}

func newHarness(t *testing.T, env map[string]string) *harness {
	t.Helper()
	launcher := &fakeLauncher{}
	healthy := &atomic.Bool{}
	healthy.Store(true)
	logs := logbuf.New(1000)

	sup := New(
		testLoader(env),
		logs,
		logging.NewWriter(io.Discard),
		WithLaunchFunc(launcher.launch),
		WithProberFunc(func(*config.Resolved) Prober {
			return &fakeProber{healthy: healthy}
		}),
	)
	t.Cleanup(func() { sup.Shutdown(context.Background()) })

	return &harness{sup: sup, launcher: launcher, healthy: healthy, logs: logs}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartMissingConfigDoesNotSpawn(t *testing.T) {
	env := testEnv()
	delete(env, config.KeyAnthropicAPIKey)
	h := newHarness(t, env)

	err := h.sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected MissingRequiredKey error")
	}
	if !kerrors.Is(err, kerrors.ErrCodeMissingRequiredKey) {
		t.Errorf("expected MISSING_REQUIRED_KEY, got %v", err)
	}
	if h.launcher.spawnCount() != 0 {
		t.Error("no process may be spawned when config is incomplete")
	}
	if got := h.sup.State(); got != StateStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestStartHappyPath(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.sup.State(); got != StateRunning {
		t.Errorf("expected running, got %s", got)
	}
	if h.launcher.spawnCount() != 1 {
		t.Errorf("expected 1 spawn, got %d", h.launcher.spawnCount())
	}

	snap := h.sup.Status(10)
	if snap.PID == 0 {
		t.Error("status must include the child PID")
	}
	if len(snap.LogTail) == 0 {
		t.Error("status must include a log tail with the transitions")
	}
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}
	if h.launcher.spawnCount() != 1 {
		t.Errorf("expected 1 spawn, got %d", h.launcher.spawnCount())
	}
}

func TestStartupHealthTimeout(t *testing.T) {
	h := newHarness(t, testEnv())
	h.healthy.Store(false)

	err := h.sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected HealthCheckTimeout error")
	}
	if !kerrors.Is(err, kerrors.ErrCodeHealthCheckTimeout) {
		t.Errorf("expected HEALTH_CHECK_TIMEOUT, got %v", err)
	}
	if got := h.sup.State(); got != StateFailed {
		t.Errorf("expected failed, got %s", got)
	}
	if handle := h.launcher.lastHandle(); handle != nil && !handle.Exited() {
		t.Error("unhealthy child must be terminated after startup timeout")
	}
}

func TestStopOnStoppedIsNoOp(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("stop on stopped must succeed, got %v", err)
	}
	if got := h.sup.State(); got != StateStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestStopTerminatesChild(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.sup.State(); got != StateStopped {
		t.Errorf("expected stopped, got %s", got)
	}
	if !h.launcher.lastHandle().Exited() {
		t.Error("child must be terminated on stop")
	}
	if h.sup.Config() != nil {
		t.Error("resolved config must be discarded on stop")
	}
}

func TestRestartSpawnsFreshProcess(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstPID := h.sup.Status(0).PID

	if err := h.sup.Restart(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.sup.State(); got != StateRunning {
		t.Errorf("expected running after restart, got %s", got)
	}
	if h.launcher.spawnCount() != 2 {
		t.Errorf("expected 2 spawns, got %d", h.launcher.spawnCount())
	}
	if pid := h.sup.Status(0).PID; pid == firstPID {
		t.Error("restart must produce a fresh process")
	}
}

func TestHealthFailureTriggersAutoRestart(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.healthy.Store(false)
	waitFor(t, "failure detection", func() bool {
		return h.sup.State() == StateFailed || h.launcher.spawnCount() > 1
	})

	h.healthy.Store(true)
	waitFor(t, "auto-restart recovery", func() bool {
		return h.sup.State() == StateRunning && h.launcher.spawnCount() >= 2
	})

	if got := h.sup.Status(0).RestartCount; got < 1 {
		t.Errorf("expected restart count >= 1, got %d", got)
	}
}

func TestChildExitTriggersAutoRestart(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.launcher.lastHandle().exit(1)
	waitFor(t, "respawn after crash", func() bool {
		return h.launcher.spawnCount() >= 2 && h.sup.State() == StateRunning
	})
}

func TestRestartBudgetExhaustion(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Permanently unhealthy: every auto-restart attempt fails at startup.
	h.healthy.Store(false)
	waitFor(t, "budget exhaustion", func() bool {
		snap := h.sup.Status(0)
		return snap.State == StateFailed && snap.RestartCount == 2 &&
			strings.Contains(snap.Reason, "budget exhausted")
	})

	// Give any stray attempt time to appear, then verify none did.
	spawns := h.launcher.spawnCount()
	time.Sleep(200 * time.Millisecond)
	if h.launcher.spawnCount() != spawns {
		t.Error("no further automatic attempts may happen after the budget is exhausted")
	}
	if h.sup.State() != StateFailed {
		t.Errorf("state must remain failed, got %s", h.sup.State())
	}

	// A manual restart clears the budget and recovers the service.
	h.healthy.Store(true)
	if err := h.sup.Restart(context.Background()); err != nil {
		t.Fatalf("manual restart failed: %v", err)
	}
	snap := h.sup.Status(0)
	if snap.State != StateRunning || snap.RestartCount != 0 {
		t.Errorf("expected running with reset budget, got %s count=%d", snap.State, snap.RestartCount)
	}
}

func TestOperatorStopSupersedesAutoRestart(t *testing.T) {
	env := testEnv()
	env[config.KeyRestartBackoff] = "500ms"
	h := newHarness(t, env)

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.healthy.Store(false)
	waitFor(t, "failure detection", func() bool {
		return h.sup.State() == StateFailed
	})

	// Stop lands inside the auto-restart backoff window.
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spawns := h.launcher.spawnCount()
	time.Sleep(700 * time.Millisecond)
	if h.launcher.spawnCount() != spawns {
		t.Error("superseded auto-restart must not spawn")
	}
	if got := h.sup.State(); got != StateStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestStatusNeverStaleRunning(t *testing.T) {
	h := newHarness(t, testEnv())

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.healthy.Store(false)
	waitFor(t, "failure past threshold", func() bool {
		return h.sup.Status(0).State != StateRunning
	})
}

func TestSpawnFailure(t *testing.T) {
	h := newHarness(t, testEnv())
	h.launcher.failErr = kerrors.ProcessSpawnFailure("streamlit", fmt.Errorf("executable not found"))

	err := h.sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected spawn failure")
	}
	if !kerrors.Is(err, kerrors.ErrCodeProcessSpawnFailure) {
		t.Errorf("expected PROCESS_SPAWN_FAILURE, got %v", err)
	}
	if got := h.sup.State(); got != StateFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestManualStartAfterFailureReplacesLingeringChild(t *testing.T) {
	env := testEnv()
	env[config.KeyRestartBackoff] = "500ms"
	h := newHarness(t, env)

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := h.launcher.lastHandle()
	firstPID := first.PID()

	// The threshold trips on an alive but unhealthy child; it stays up.
	h.healthy.Store(false)
	waitFor(t, "failure detection", func() bool {
		return h.sup.State() == StateFailed
	})
	if first.Exited() {
		t.Fatal("child should still be alive after the threshold trips")
	}

	// Manual start lands inside the auto-restart backoff window.
	h.healthy.Store(true)
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.Exited() {
		t.Error("lingering child must be terminated before the replacement spawns")
	}
	if got := h.sup.State(); got != StateRunning {
		t.Errorf("expected running, got %s", got)
	}
	if pid := h.sup.Status(0).PID; pid == firstPID {
		t.Error("expected a fresh process after manual start")
	}
}
