package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dbmigration/keeper/internal/config"
	"github.com/dbmigration/keeper/internal/supervisor"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setCompleteEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.KeyAnthropicAPIKey, "sk-ant-test-12345678")
	t.Setenv(config.KeyAdminEmail, "admin@example.com")
	t.Setenv(config.KeyAdminPassword, "hunter22")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "dev") {
		t.Errorf("expected a version string, got %q", out)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	setCompleteEnv(t)

	out, err := runCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "sk-ant-test-1234") {
		t.Error("API key must not appear in clear text")
	}
	if !strings.Contains(out, config.KeyAnthropicAPIKey+"=") {
		t.Error("expected the API key entry")
	}
	if !strings.Contains(out, "5678") {
		t.Error("redaction keeps the last 4 characters")
	}
}

func TestConfigShowJSON(t *testing.T) {
	setCompleteEnv(t)

	out, err := runCommand(t, "config", "show", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Values map[string]string `json:"values"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("expected valid JSON: %v", err)
	}
	if body.Values[config.KeyAdminEmail] == "" {
		t.Error("expected admin email in the output")
	}
}

func TestConfigCheckFailsOnIncompleteEnv(t *testing.T) {
	t.Setenv(config.KeyAdminEmail, "admin@example.com")
	t.Setenv(config.KeyAdminPassword, "hunter22")
	t.Setenv(config.KeyAnthropicAPIKey, "")

	out, err := runCommand(t, "config", "check")
	if err == nil {
		t.Fatal("expected an error for the missing API key")
	}
	if !strings.Contains(out, config.KeyAnthropicAPIKey) {
		t.Errorf("expected the missing key to be named, got %q", out)
	}
}

func TestConfigCheckPassesOnCompleteEnv(t *testing.T) {
	setCompleteEnv(t)

	out, err := runCommand(t, "config", "check")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Anthropic API") {
		t.Errorf("expected a status report, got %q", out)
	}
}

func TestStatusCommandAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": supervisor.Snapshot{
				State:        supervisor.StateRunning,
				PID:          4242,
				RestartCount: 1,
			},
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv(config.KeyAdminEmail, "admin@example.com")
	t.Setenv(config.KeyAdminPassword, "hunter22")

	addr := strings.TrimPrefix(srv.URL, "http://")
	out, err := runCommand(t, "status", "--addr", addr, "--tail", "0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "running") || !strings.Contains(out, "4242") {
		t.Errorf("expected state and PID, got %q", out)
	}
}

func TestStopCommandAgainstServer(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/stop" {
			called = true
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": supervisor.Snapshot{State: supervisor.StateStopped},
		})
	}))
	t.Cleanup(srv.Close)
	t.Setenv(config.KeyAdminEmail, "admin@example.com")
	t.Setenv(config.KeyAdminPassword, "hunter22")

	addr := strings.TrimPrefix(srv.URL, "http://")
	out, err := runCommand(t, "stop", "--addr", addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected a POST /v1/stop")
	}
	if !strings.Contains(out, "stopped") {
		t.Errorf("expected stopped state, got %q", out)
	}
}
