// Package portal is the network layer to the gym portal backend. Every
// response is decoded as a {success, data, message} envelope; callers never
// see transport details beyond the error classification.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fitsync/internal/adapters/http/perf"
	"fitsync/internal/adapters/metrics"
	"fitsync/internal/application/retry"
	"fitsync/internal/domain/envelope"
)

// DefaultTimeout bounds a single portal request.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a portal response is read.
const maxResponseBytes = 10 << 20

// Error taxonomy for portal calls.
var (
	// ErrServerStatus marks a 5xx response. It is retryable.
	ErrServerStatus = errors.New("portal server error")
	// ErrMalformedResponse marks a 2xx body that is not an envelope.
	ErrMalformedResponse = errors.New("malformed portal response")
)

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Token      string // bearer token attached to every request
	Timeout    time.Duration
	Collector  *perf.Collector // optional; receives upstream timings
	HTTPClient *http.Client    // optional; overrides Timeout
}

// Request is one call to the portal.
type Request struct {
	Method  string
	Path    string // relative to BaseURL, may carry a query string
	Headers map[string]string
	Body    json.RawMessage
}

// Client talks to the portal REST backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	collector  *perf.Collector
}

// New creates a client.
// PRE: cfg.BaseURL is an absolute http(s) URL
// POST: Returns a ready client or an error describing the bad URL
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("portal base url %q must be an absolute http(s) url", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: hc,
		collector:  cfg.Collector,
	}, nil
}

// Do sends req and decodes the envelope.
// PRE: req.Method and req.Path are non-empty
// POST: Transport failures and 5xx responses return a retryable error.
// A 4xx response returns an unsuccessful envelope and a nil error. A 2xx
// body that is not an envelope returns ErrMalformedResponse.
func (c *Client) Do(ctx context.Context, req Request) (envelope.Envelope, error) {
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+path, body)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("build portal request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.record(req.Method, path, 0, start)
		slog.Warn("upstream_request_failed", "method", req.Method, "path", path, "error", err.Error())
		return envelope.Envelope{}, retry.Retryable(fmt.Errorf("%s %s: %w", req.Method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.record(req.Method, path, resp.StatusCode, start)
	if err != nil {
		return envelope.Envelope{}, retry.Retryable(fmt.Errorf("read portal response: %w", err))
	}

	var env envelope.Envelope
	decodeErr := json.Unmarshal(raw, &env)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	switch {
	case ok && decodeErr != nil:
		return envelope.Envelope{}, fmt.Errorf("%w: %s %s: %w", ErrMalformedResponse, req.Method, path, decodeErr)
	case ok:
		return env, nil
	}

	if decodeErr != nil || env.Message == "" {
		env = envelope.Fail(http.StatusText(resp.StatusCode))
	}
	env.Success = false
	slog.Warn("upstream_request_rejected", "method", req.Method, "path", path, "status", resp.StatusCode, "message", env.Message)

	if resp.StatusCode >= 500 {
		return env, retry.Retryable(fmt.Errorf("%w: %s %s returned %d", ErrServerStatus, req.Method, path, resp.StatusCode))
	}
	return env, nil
}

// record sends one upstream timing to the perf collector and Prometheus.
func (c *Client) record(method, path string, status int, start time.Time) {
	d := time.Since(start)
	metrics.RecordUpstream(method, status, d)
	if c.collector == nil {
		return
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	c.collector.Record(perf.Entry{
		Kind:       perf.KindUpstream,
		Path:       method + " " + path,
		StatusCode: status,
		DurationMs: float64(d.Microseconds()) / 1000.0,
		Timestamp:  start,
	})
}

// Fetch returns a read of path suitable for the offline orchestrator.
func (c *Client) Fetch(path string) func(ctx context.Context) (envelope.Envelope, error) {
	return func(ctx context.Context) (envelope.Envelope, error) {
		return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
	}
}
