// Package client talks to a running storyline worker over its control API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/storyline/internal/config"
	"github.com/thebtf/storyline/internal/pipeline"
	"github.com/thebtf/storyline/internal/worker"
)

const (
	// HealthCheckTimeout bounds a single health probe.
	HealthCheckTimeout = 1 * time.Second

	// RequestTimeout bounds read requests. Run triggers wait for the run instead.
	RequestTimeout = 10 * time.Second
)

// ErrNoRun is returned by LastRun before the worker has finished a run.
var ErrNoRun = errors.New("worker has not run yet")

// StatusError is a non-2xx response from the worker.
type StatusError struct {
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("worker returned %d", e.Code)
	}
	return fmt.Sprintf("worker returned %d: %s", e.Code, e.Message)
}

// Health is the worker's /health response.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// RunResult is the outcome of a run trigger.
type RunResult struct {
	Stats *pipeline.RunStats
	// Shared is set when the trigger joined a run started by someone else.
	Shared bool
	// Running is set when the worker accepted the trigger but the run had not finished.
	Running bool
}

// Client is a worker control API client.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// WorkerPort returns the worker port from STORYLINE_WORKER_PORT or the default.
func WorkerPort() int {
	if port := os.Getenv("STORYLINE_WORKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			return p
		}
	}
	return config.DefaultWorkerPort
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:37790". An empty token sends no auth header.
func New(baseURL, token string) *Client {
	return &Client{
		http:    &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// NewLocal creates a client for a worker on this host.
func NewLocal(port int, token string) *Client {
	return New(fmt.Sprintf("http://127.0.0.1:%d", port), token)
}

// IsRunning reports whether the worker answers its health check with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	_, err := c.Health(ctx)
	return err == nil
}

// WaitReady polls the health check with exponential backoff until it succeeds or timeout passes.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := 50 * time.Millisecond
	maxBackoff := 500 * time.Millisecond
	for {
		if c.IsRunning(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("worker not ready after %s: %w", timeout, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Health fetches /health. An unhealthy worker yields a StatusError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stats fetches the worker's run statistics.
func (c *Client) Stats(ctx context.Context) (*worker.Stats, error) {
	var st worker.Stats
	if err := c.get(ctx, "/api/stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LastRun fetches the statistics of the most recent run.
func (c *Client) LastRun(ctx context.Context) (*pipeline.RunStats, error) {
	var st pipeline.RunStats
	err := c.get(ctx, "/api/runs/last", &st)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// TriggerRun asks the worker to run now and waits for the result or for ctx.
// A failed run returns its statistics together with a StatusError.
func (c *Client) TriggerRun(ctx context.Context) (*RunResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/runs", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trigger run: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read run response: %w", err)
	}

	res := &RunResult{Shared: resp.Header.Get("X-Run-Shared") == "true"}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		res.Running = true
		return res, nil
	case resp.StatusCode == http.StatusOK:
		res.Stats = &pipeline.RunStats{}
		if err := json.Unmarshal(body, res.Stats); err != nil {
			return nil, fmt.Errorf("decode run stats: %w", err)
		}
		return res, nil
	case resp.StatusCode == http.StatusInternalServerError:
		var st pipeline.RunStats
		if json.Unmarshal(body, &st) == nil && st.RunID != "" {
			res.Stats = &st
			return res, &StatusError{Code: resp.StatusCode, Message: st.Error}
		}
	}
	return nil, statusError(resp.StatusCode, body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	return &StatusError{Code: code, Message: e.Error}
}

// VersionsCompatible reports whether a CLI and worker version can be used together.
// Dev builds match anything; otherwise the semver bases must be equal.
func VersionsCompatible(v1, v2 string) bool {
	if v1 == "dev" || v2 == "dev" {
		return true
	}
	return extractBaseVersion(v1) == extractBaseVersion(v2)
}

// extractBaseVersion extracts the semver base, e.g. "v0.3.5-2-gca711a8-dirty" -> "0.3.5".
func extractBaseVersion(version string) string {
	v := strings.TrimPrefix(version, "v")
	if idx := strings.Index(v, "-"); idx > 0 {
		v = v[:idx]
	}
	return v
}
