// Package client is the JSON client for the keeper control API, used by
// the CLI lifecycle commands.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/dbmigration/keeper/internal/errors"
	"github.com/dbmigration/keeper/internal/logbuf"
	"github.com/dbmigration/keeper/internal/supervisor"
)

// Config holds client connection settings.
type Config struct {
	// BaseURL is the control API root, e.g. "http://127.0.0.1:8565".
	BaseURL string

	// AdminEmail and AdminPassword authenticate with basic auth.
	AdminEmail    string
	AdminPassword string

	// AdminKey, when set, is preferred over basic auth.
	AdminKey string

	// Timeout bounds non-streaming requests. Defaults to 10s.
	Timeout time.Duration
}

// Client talks to a running keeper control API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client. The base URL must not be empty.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// dataEnvelope mirrors the server's success envelope.
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

// Status fetches the supervisor snapshot with a log tail of n lines.
func (c *Client) Status(ctx context.Context, tail int) (*supervisor.Snapshot, error) {
	query := url.Values{}
	if tail > 0 {
		query.Set("tail", strconv.Itoa(tail))
	}
	return do[supervisor.Snapshot](ctx, c, http.MethodGet, "/v1/status", query)
}

// Start requests a service start and returns the resulting snapshot.
func (c *Client) Start(ctx context.Context) (*supervisor.Snapshot, error) {
	return do[supervisor.Snapshot](ctx, c, http.MethodPost, "/v1/start", nil)
}

// Stop requests a service stop and returns the resulting snapshot.
func (c *Client) Stop(ctx context.Context) (*supervisor.Snapshot, error) {
	return do[supervisor.Snapshot](ctx, c, http.MethodPost, "/v1/stop", nil)
}

// Restart requests a service restart and returns the resulting snapshot.
func (c *Client) Restart(ctx context.Context) (*supervisor.Snapshot, error) {
	return do[supervisor.Snapshot](ctx, c, http.MethodPost, "/v1/restart", nil)
}

// ConfigView is the redacted configuration report.
type ConfigView struct {
	EnvFile string            `json:"env_file"`
	Values  map[string]string `json:"values"`
}

// Config fetches the effective configuration with sensitive values masked.
func (c *Client) Config(ctx context.Context) (*ConfigView, error) {
	return do[ConfigView](ctx, c, http.MethodGet, "/v1/config", nil)
}

// Logs fetches the newest n captured lines.
func (c *Client) Logs(ctx context.Context, tail int) ([]logbuf.Line, error) {
	query := url.Values{}
	if tail > 0 {
		query.Set("tail", strconv.Itoa(tail))
	}
	lines, err := do[[]logbuf.Line](ctx, c, http.MethodGet, "/v1/logs", query)
	if err != nil {
		return nil, err
	}
	return *lines, nil
}

// LogsRange fetches captured lines between from and to.
func (c *Client) LogsRange(ctx context.Context, from, to time.Time) ([]logbuf.Line, error) {
	query := url.Values{}
	query.Set("from", from.Format(time.RFC3339))
	if !to.IsZero() {
		query.Set("to", to.Format(time.RFC3339))
	}
	lines, err := do[[]logbuf.Line](ctx, c, http.MethodGet, "/v1/logs", query)
	if err != nil {
		return nil, err
	}
	return *lines, nil
}

// FollowLogs streams live lines, invoking fn for each until the context
// is canceled or the stream ends.
func (c *Client) FollowLogs(ctx context.Context, fn func(logbuf.Line)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/logs?follow=true", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	// A follow stream has no natural deadline.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, resp.Body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		if !strings.HasPrefix(raw, "data: ") {
			continue
		}
		var line logbuf.Line
		if err := json.Unmarshal([]byte(strings.TrimPrefix(raw, "data: ")), &line); err != nil {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AdminKey)
		return
	}
	req.SetBasicAuth(c.cfg.AdminEmail, c.cfg.AdminPassword)
}

// do executes a request and decodes the success envelope into T.
func do[T any](ctx context.Context, c *Client, method, path string, query url.Values) (*T, error) {
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, bytes.NewReader(body))
	}

	var envelope dataEnvelope[T]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return &envelope.Data, nil
}

// decodeError rebuilds a structured error from an error response body,
// falling back to a plain error when the body is not structured.
func decodeError(status int, body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("client: server returned %d", status)
	}

	var structured kerrors.ErrorResponse
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Error.Code != "" {
		return &kerrors.AppError{
			Code:       structured.Error.Code,
			Message:    structured.Error.Message,
			Retryable:  structured.Error.Retryable,
			Details:    structured.Error.Details,
			HTTPStatus: status,
		}
	}

	var plain struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &plain); err == nil && plain.Error != "" {
		return fmt.Errorf("client: server returned %d: %s", status, plain.Error)
	}
	return fmt.Errorf("client: server returned %d", status)
}
