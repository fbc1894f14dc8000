// Package process spawns and terminates the supervised application
// process. Children run in their own process group so termination
// signals reach the whole tree.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	kerrors "github.com/dbmigration/keeper/internal/errors"
)

const defaultGracePeriod = 10 * time.Second

// Handle is a running child process. It is created by Start and owned
// by a single supervisor; methods are not safe for concurrent use
// except Done and PID.
type Handle struct {
	cmd         *exec.Cmd
	gracePeriod time.Duration
	startedAt   time.Time

	done    chan struct{}
	waitErr error
}

// Start spawns the process with stdout and stderr attached to the given
// writers. It returns once the process has launched; exit is observed
// through Done.
func Start(cmd Command, stdout, stderr io.Writer) (*Handle, error) {
	if cmd.Binary == "" {
		return nil, kerrors.ProcessSpawnFailure("", fmt.Errorf("binary is required"))
	}

	gracePeriod := cmd.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = defaultGracePeriod
	}

	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec // launching a configured binary is the purpose of this package
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)
	c.Stdout = stdout
	c.Stderr = stderr

	// Use process group so we can signal the entire tree
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return nil, kerrors.ProcessSpawnFailure(cmd.Binary, err)
	}

	h := &Handle{
		cmd:         c,
		gracePeriod: gracePeriod,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}

	go func() {
		h.waitErr = c.Wait()
		close(h.done)
	}()

	return h, nil
}

// PID returns the process ID of the child.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// StartedAt returns when the process was launched.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed when the process exits for any reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has already exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// WaitErr returns the exit error after Done is closed. nil means a
// clean zero exit.
func (h *Handle) WaitErr() error {
	return h.waitErr
}

// ExitCode returns the exit code after Done is closed, -1 if killed.
func (h *Handle) ExitCode() int {
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Terminate requests a graceful exit: SIGTERM to the process group,
// then SIGKILL once the grace period elapses. The returned forced flag
// reports whether the kill escalation was needed.
func (h *Handle) Terminate() (forced bool, err error) {
	if h.Exited() {
		return false, nil
	}

	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		// The process may have exited between the check and the signal.
		if err == syscall.ESRCH {
			<-h.done
			return false, nil
		}
		return false, fmt.Errorf("process: signal SIGTERM: %w", err)
	}

	timer := time.NewTimer(h.gracePeriod)
	defer timer.Stop()

	select {
	case <-h.done:
		return false, nil
	case <-timer.C:
	}

	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return true, fmt.Errorf("process: signal SIGKILL: %w", err)
	}
	<-h.done
	return true, nil
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	env := os.Environ()
	return append(env, extra...)
}
