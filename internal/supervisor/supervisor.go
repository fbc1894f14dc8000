// Package supervisor owns the lifecycle of the migration-analyzer
// process: configuration load, spawn, startup liveness wait, periodic
// health checks, and bounded automatic restarts. Lifecycle commands are
// serialized; the health loop is the only concurrent activity, and a
// pending operator command always wins over an in-flight auto-restart.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbmigration/keeper/internal/config"
	kerrors "github.com/dbmigration/keeper/internal/errors"
	"github.com/dbmigration/keeper/internal/logbuf"
	"github.com/dbmigration/keeper/internal/logging"
	"github.com/dbmigration/keeper/internal/metrics"
	"github.com/dbmigration/keeper/internal/probe"
	"github.com/dbmigration/keeper/internal/process"
)

const (
	startupPollInterval = 500 * time.Millisecond

	restartInitialBackoff   = time.Second
	restartMaxBackoff       = 30 * time.Second
	restartBudgetResetAfter = 5 * time.Minute
)

// Loader produces a fresh ResolvedConfig. Invoked on every start so a
// restart picks up environment changes.
type Loader func() (*config.Resolved, error)

// Handle abstracts the running child process.
type Handle interface {
	PID() int
	StartedAt() time.Time
	Done() <-chan struct{}
	Exited() bool
	ExitCode() int
	Terminate() (forced bool, err error)
}

// LaunchFunc spawns the child process.
type LaunchFunc func(cmd process.Command, stdout, stderr io.Writer) (Handle, error)

// Prober abstracts the liveness probe.
type Prober interface {
	URL() string
	Probe(ctx context.Context) error
	WaitHealthy(ctx context.Context, timeout, interval time.Duration) error
}

// ProberFunc builds a prober for a freshly resolved configuration.
type ProberFunc func(resolved *config.Resolved) Prober

// Supervisor manages one application process. Construct exactly one per
// deployment with New.
type Supervisor struct {
	loader    Loader
	launch    LaunchFunc
	newProber ProberFunc
	logs      *logbuf.Buffer
	log       *logging.Logger
	metrics   *metrics.Metrics

	// generation is bumped at the start of every operator command so an
	// in-flight auto-restart can detect it has been superseded.
	generation atomic.Uint64

	// cmdMu serializes lifecycle transitions.
	cmdMu sync.Mutex

	// mu guards the observable fields below.
	mu             sync.Mutex
	state          State
	reason         string
	lastTransition time.Time
	resolved       *config.Resolved
	handle         Handle
	restartCount   int

	session *session
}

// Option configures the Supervisor.
type Option func(*Supervisor)

// WithLaunchFunc replaces the process launcher. Used by tests.
func WithLaunchFunc(fn LaunchFunc) Option {
	return func(s *Supervisor) { s.launch = fn }
}

// WithProberFunc replaces the prober factory. Used by tests.
func WithProberFunc(fn ProberFunc) Option {
	return func(s *Supervisor) { s.newProber = fn }
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New creates a Supervisor in the stopped state.
func New(loader Loader, logs *logbuf.Buffer, log *logging.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		loader:         loader,
		logs:           logs,
		log:            log.WithComponent("supervisor"),
		state:          StateStopped,
		reason:         "supervisor initialized",
		lastTransition: time.Now(),
	}
	s.launch = func(cmd process.Command, stdout, stderr io.Writer) (Handle, error) {
		return process.Start(cmd, stdout, stderr)
	}
	s.newProber = defaultProber
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultProber(resolved *config.Resolved) Prober {
	host := resolved.Get(config.KeyAppHost)
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%s%s", host, resolved.Get(config.KeyAppPort), resolved.Get(config.KeyHealthPath))
	return probe.New(probe.Config{
		URL:     url,
		Timeout: resolved.Duration(config.KeyHealthTimeout),
	})
}

// Start loads configuration and brings the service up. Config failures
// are fatal and nothing is spawned. Starting an already running or
// starting service is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.generation.Add(1)
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.startLocked(ctx)
}

// Stop gracefully terminates the service. Stopping an already stopped
// service is a no-op returning success.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.generation.Add(1)
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.stopLocked("stop requested")
	return nil
}

// Restart stops and starts the service as one serialized command, and
// resets the automatic restart budget.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.generation.Add(1)
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.stopLocked("restart requested")

	s.mu.Lock()
	s.restartCount = 0
	s.mu.Unlock()

	return s.startLocked(ctx)
}

// Status returns the current snapshot with a recent log tail. It never
// blocks on a lifecycle command in progress.
func (s *Supervisor) Status(tail int) Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:          s.state,
		Reason:         s.reason,
		LastTransition: s.lastTransition,
		RestartCount:   s.restartCount,
	}
	if s.handle != nil && !s.handle.Exited() {
		snap.PID = s.handle.PID()
		snap.StartedAt = s.handle.StartedAt()
	}
	s.mu.Unlock()

	if tail > 0 {
		snap.LogTail = s.logs.Tail(tail)
	}
	return snap
}

// State returns just the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the active ResolvedConfig, nil while stopped.
func (s *Supervisor) Config() *config.Resolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// Shutdown stops the service and discards supervisor state.
func (s *Supervisor) Shutdown(ctx context.Context) {
	_ = s.Stop(ctx)
}

// startLocked performs the start sequence. Caller holds cmdMu.
func (s *Supervisor) startLocked(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateRunning || state == StateStarting {
		return nil
	}

	// A health-threshold failure leaves an alive but unhealthy child
	// behind. Tear it down so the replacement can take its port.
	s.cleanupFailed()

	resolved, err := s.loader()
	if err != nil {
		s.log.Error("configuration load failed, service not started", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	s.transition(StateStarting, "start requested")

	s.mu.Lock()
	s.resolved = resolved
	s.mu.Unlock()

	cmd := buildCommand(resolved)
	handle, err := s.launch(cmd, s.logs.Writer("stdout"), s.logs.Writer("stderr"))
	if err != nil {
		s.transition(StateFailed, fmt.Sprintf("spawn failure: %v", err))
		return err
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	s.log.Info("process spawned", map[string]interface{}{
		"pid":    handle.PID(),
		"binary": cmd.Binary,
	})

	prober := s.newProber(resolved)
	if err := s.awaitStartup(ctx, handle, prober, resolved); err != nil {
		return err
	}

	s.transition(StateRunning, "health check passed")
	s.startSession(handle, prober, resolved)
	return nil
}

// awaitStartup waits for the first successful probe, treating child exit
// and timeout as startup failures.
func (s *Supervisor) awaitStartup(ctx context.Context, handle Handle, prober Prober, resolved *config.Resolved) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-handle.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	startupTimeout := resolved.Duration(config.KeyStartupTimeout)
	if err := prober.WaitHealthy(waitCtx, startupTimeout, startupPollInterval); err != nil {
		if handle.Exited() {
			s.transition(StateFailed, fmt.Sprintf("process exited during startup with code %d", handle.ExitCode()))
			return kerrors.ProcessSpawnFailure(resolved.Get(config.KeyAppBinary),
				fmt.Errorf("exited during startup with code %d", handle.ExitCode()))
		}
		if _, termErr := handle.Terminate(); termErr != nil {
			s.log.Warn("failed to terminate unhealthy process", map[string]interface{}{
				"error": termErr.Error(),
			})
		}
		s.transition(StateFailed, fmt.Sprintf("no successful health check within %s", startupTimeout))
		return kerrors.HealthCheckTimeout(prober.URL(), startupTimeout.String())
	}
	return nil
}

// stopLocked tears down the session and child. Caller holds cmdMu.
// Idempotent: stopping a stopped service does nothing.
func (s *Supervisor) stopLocked(reason string) {
	s.mu.Lock()
	session := s.session
	handle := s.handle
	state := s.state
	s.session = nil
	s.mu.Unlock()

	if session != nil {
		session.stop()
	}

	if handle != nil && !handle.Exited() {
		forced, err := handle.Terminate()
		if err != nil {
			s.log.Error("terminate failed", map[string]interface{}{"error": err.Error()})
		}
		if forced {
			grace := defaultGraceString(s.resolvedGrace())
			s.log.Warn(kerrors.GracefulStopTimeout(grace).Message)
		}
	}

	s.mu.Lock()
	s.handle = nil
	s.resolved = nil
	s.mu.Unlock()

	if state != StateStopped {
		s.transition(StateStopped, reason)
	}
}

func (s *Supervisor) resolvedGrace() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved == nil {
		return 0
	}
	return s.resolved.Duration(config.KeyStopGrace)
}

func defaultGraceString(d time.Duration) string {
	if d == 0 {
		return "10s"
	}
	return d.String()
}

// transition records a state change with previous state, new state and
// reason, mirrored into the log buffer so `status` shows it in the tail.
func (s *Supervisor) transition(to State, reason string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.reason = reason
	s.lastTransition = time.Now()
	s.mu.Unlock()

	if from == to {
		return
	}

	s.log.Info("state transition", map[string]interface{}{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
	s.logs.Append("keeper", fmt.Sprintf("state %s -> %s: %s", from, to, reason))
	s.metrics.RecordTransition(context.Background(), string(from), string(to))
}

// buildCommand assembles the child process command from the snapshot.
// Port and address flags are templated from the resolved values.
func buildCommand(resolved *config.Resolved) process.Command {
	args := strings.Fields(resolved.Get(config.KeyAppArgs))
	args = append(args,
		"--server.port", resolved.Get(config.KeyAppPort),
		"--server.address", resolved.Get(config.KeyAppHost),
	)
	return process.Command{
		Binary:      resolved.Get(config.KeyAppBinary),
		Args:        args,
		Dir:         resolved.Get(config.KeyAppWorkDir),
		Env:         resolved.Environ(),
		GracePeriod: resolved.Duration(config.KeyStopGrace),
	}
}
