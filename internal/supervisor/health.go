package supervisor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dbmigration/keeper/internal/config"
	kerrors "github.com/dbmigration/keeper/internal/errors"
)

// session is one health-monitoring run over a spawned child. It ends
// when the child exits, the failure threshold trips, or a lifecycle
// command cancels it.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the session and waits for the loop to exit.
func (s *session) stop() {
	s.cancel()
	<-s.done
}

func (s *Supervisor) startSession(handle Handle, prober Prober, resolved *config.Resolved) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	go s.healthLoop(ctx, sess, handle, prober, resolved)
}

// healthLoop probes the child until it fails or the session is stopped.
// On failure it hands off to autoRestart in a fresh goroutine so the
// session can drain without holding up lifecycle commands.
func (s *Supervisor) healthLoop(ctx context.Context, sess *session, handle Handle, prober Prober, resolved *config.Resolved) {
	defer close(sess.done)

	interval := resolved.Duration(config.KeyHealthInterval)
	threshold := resolved.Int(config.KeyHealthThreshold)
	startedHealthy := time.Now()
	consecutive := 0

	// The generation active when this session began. Auto-restarts
	// spawned from here are abandoned once an operator command bumps it.
	gen := s.generation.Load()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-handle.Done():
			s.transition(StateFailed, fmt.Sprintf("process exited unexpectedly with code %d", handle.ExitCode()))
			go s.autoRestart(gen, resolved)
			return

		case <-ticker.C:
			start := time.Now()
			err := prober.Probe(ctx)
			s.metrics.RecordProbe(ctx, time.Since(start), err == nil)

			if err != nil {
				consecutive++
				s.log.Warn("health check failed", map[string]interface{}{
					"consecutive": consecutive,
					"threshold":   threshold,
					"error":       err.Error(),
				})
				if consecutive >= threshold {
					s.transition(StateFailed, fmt.Sprintf("%d consecutive health check failures", consecutive))
					go s.autoRestart(gen, resolved)
					return
				}
				continue
			}

			consecutive = 0
			if time.Since(startedHealthy) >= restartBudgetResetAfter {
				s.resetRestartBudget()
			}
		}
	}
}

// resetRestartBudget clears the consecutive auto-restart count once the
// service has proven stable.
func (s *Supervisor) resetRestartBudget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restartCount != 0 {
		s.restartCount = 0
	}
}

// autoRestart retries startLocked with exponential backoff until the
// service recovers, the budget is exhausted, or an operator command
// supersedes it.
func (s *Supervisor) autoRestart(failGen uint64, resolved *config.Resolved) {
	budget := resolved.Int(config.KeyRestartBudget)
	initialBackoff := resolved.Duration(config.KeyRestartBackoff)
	if initialBackoff <= 0 {
		initialBackoff = restartInitialBackoff
	}

	for {
		s.cmdMu.Lock()
		if s.generation.Load() != failGen {
			s.cmdMu.Unlock()
			s.log.Info("auto-restart superseded by operator command")
			return
		}

		s.mu.Lock()
		attempt := s.restartCount
		s.mu.Unlock()

		if attempt >= budget {
			exhausted := kerrors.RestartBudgetExhausted(attempt)
			s.mu.Lock()
			s.reason = exhausted.Message
			s.mu.Unlock()
			s.log.Error(exhausted.Message)
			s.logs.Append("keeper", exhausted.Message)
			s.cmdMu.Unlock()
			return
		}

		s.mu.Lock()
		s.restartCount = attempt + 1
		s.mu.Unlock()
		s.cmdMu.Unlock()

		backoff := backoffFor(attempt, initialBackoff)
		s.log.Info("scheduling auto-restart", map[string]interface{}{
			"attempt": attempt + 1,
			"budget":  budget,
			"backoff": backoff.String(),
		})
		time.Sleep(backoff)

		s.cmdMu.Lock()
		if s.generation.Load() != failGen {
			s.cmdMu.Unlock()
			s.log.Info("auto-restart superseded by operator command")
			return
		}

		s.cleanupFailed()
		s.metrics.RecordRestart(context.Background())

		// Cancel the startup wait as soon as an operator command arrives.
		ctx, cancel := context.WithCancel(context.Background())
		watchDone := make(chan struct{})
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-watchDone:
					return
				case <-ticker.C:
					if s.generation.Load() != failGen {
						cancel()
						return
					}
				}
			}
		}()

		err := s.startLocked(ctx)
		close(watchDone)
		cancel()
		s.cmdMu.Unlock()

		if err == nil {
			return
		}
		s.log.Warn("auto-restart attempt failed", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
}

// cleanupFailed discards the dead (or unhealthy) child so startLocked
// begins from a clean slate. The failed state is preserved.
func (s *Supervisor) cleanupFailed() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.resolved = nil
	s.mu.Unlock()

	if handle != nil && !handle.Exited() {
		if _, err := handle.Terminate(); err != nil {
			s.log.Warn("cleanup terminate failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// backoffFor computes initial*2^attempt capped at restartMaxBackoff.
func backoffFor(attempt int, initial time.Duration) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))
	if backoff > float64(restartMaxBackoff) {
		backoff = float64(restartMaxBackoff)
	}
	return time.Duration(backoff)
}
