// Package probe polls the supervised application's health endpoint.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures a liveness prober.
type Config struct {
	// URL is the health endpoint, e.g. http://127.0.0.1:8501/_stcore/health.
	URL string
	// Timeout bounds a single probe. Defaults to 2 seconds.
	Timeout time.Duration
}

// Prober performs HTTP liveness probes against one endpoint.
type Prober struct {
	url    string
	client *http.Client
}

// New creates a Prober from config.
func New(cfg Config) *Prober {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &Prober{
		url: cfg.URL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the probed endpoint.
func (p *Prober) URL() string {
	return p.url
}

// Probe performs one liveness check. Any 2xx response is healthy;
// connection errors, timeouts, and other statuses are unhealthy.
func (p *Prober) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("probe: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// WaitHealthy polls until the endpoint responds successfully or the
// deadline passes. Used for the startup liveness wait.
func (p *Prober) WaitHealthy(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Probe(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("probe: endpoint %s not healthy after %s", p.url, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
