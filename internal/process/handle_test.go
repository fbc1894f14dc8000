package process

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kerrors "github.com/dbmigration/keeper/internal/errors"
)

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(Command{}, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty binary")
	}
	if !kerrors.Is(err, kerrors.ErrCodeProcessSpawnFailure) {
		t.Errorf("expected PROCESS_SPAWN_FAILURE, got %v", err)
	}
}

func TestStartNonexistentBinary(t *testing.T) {
	_, err := Start(Command{Binary: "/nonexistent/definitely-not-here"}, nil, nil)
	if err == nil {
		t.Fatal("expected error for nonexistent binary")
	}
	if !kerrors.Is(err, kerrors.ErrCodeProcessSpawnFailure) {
		t.Errorf("expected PROCESS_SPAWN_FAILURE, got %v", err)
	}
}

func TestStartCapturesOutput(t *testing.T) {
	var stdout bytes.Buffer
	h, err := Start(Command{Binary: "sh", Args: []string{"-c", "echo hello"}}, &stdout, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if h.WaitErr() != nil {
		t.Errorf("unexpected exit error: %v", h.WaitErr())
	}
	if h.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", h.ExitCode())
	}
	if got := strings.TrimSpace(stdout.String()); got != "hello" {
		t.Errorf("expected stdout 'hello', got %q", got)
	}
}

func TestStartPassesEnvironment(t *testing.T) {
	var stdout bytes.Buffer
	h, err := Start(Command{
		Binary: "sh",
		Args:   []string{"-c", "echo $KEEPER_TEST_VALUE"},
		Env:    []string{"KEEPER_TEST_VALUE=from-config"},
	}, &stdout, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	if got := strings.TrimSpace(stdout.String()); got != "from-config" {
		t.Errorf("expected env value in output, got %q", got)
	}
}

func TestTerminateGraceful(t *testing.T) {
	// sleep exits promptly on SIGTERM.
	h, err := Start(Command{Binary: "sleep", Args: []string{"60"}, GracePeriod: 5 * time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	forced, err := h.Terminate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forced {
		t.Error("sleep should have exited on SIGTERM without escalation")
	}
	if !h.Exited() {
		t.Error("process should be exited after Terminate")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	// A child that traps and ignores SIGTERM forces the kill path. The
	// child touches a file once the trap is installed so Terminate is
	// not raced against shell startup.
	ready := filepath.Join(t.TempDir(), "ready")
	h, err := Start(Command{
		Binary:      "sh",
		Args:        []string{"-c", "trap '' TERM; : > " + ready + "; while :; do sleep 0.1; done"},
		GracePeriod: 300 * time.Millisecond,
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, statErr := os.Stat(ready); statErr == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("child never signalled trap readiness")
		}
		time.Sleep(5 * time.Millisecond)
	}

	forced, err := h.Terminate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !forced {
		t.Error("expected SIGKILL escalation for a TERM-ignoring child")
	}
	if !h.Exited() {
		t.Error("process should be exited after forced kill")
	}
}

func TestTerminateIdempotentAfterExit(t *testing.T) {
	h, err := Start(Command{Binary: "true"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-h.Done()

	forced, err := h.Terminate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forced {
		t.Error("terminating an exited process must not report forced")
	}
}
