// Package upstream talks to the two public APIs the token service depends on:
// Ethplorer for the top-token list and Etherscan for wallet balances.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response body is kept.
	maxErrorBody = 4 << 10
)

// Recorder receives per-call timings. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordUpstreamCall(upstream, status string, seconds float64)
}

// Option configures an upstream client.
type Option func(*base)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(b *base) {
		b.httpClient = client
	}
}

// WithTimeout sets the http.Client timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *base) {
		b.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		b.logger = logger
	}
}

// WithRecorder reports call timings to r.
func WithRecorder(r Recorder) Option {
	return func(b *base) {
		b.recorder = r
	}
}

// base holds what both upstream clients share.
type base struct {
	name       string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	recorder   Recorder
}

func newBase(name, baseURL string, opts []Option) base {
	b := base{
		name:    name,
		baseURL: baseURL,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: b.timeout}
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return b
}

// getJSON issues a GET and decodes a 2xx JSON body into out.
//
// Errors are returned as *HTTPError for non-2xx responses and *DecodeError
// for bodies that do not decode. Transport failures are returned wrapped.
func (b *base) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		if b.recorder != nil {
			b.recorder.RecordUpstreamCall(b.name, status, time.Since(start).Seconds())
		}
	}()

	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		b.logger.WarnContext(ctx, "upstream returned error status",
			"upstream", b.name,
			"path", path,
			"status_code", resp.StatusCode,
		)
		return &HTTPError{Upstream: b.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Upstream: b.name, Err: err}
	}

	b.logger.DebugContext(ctx, "upstream call succeeded",
		"upstream", b.name,
		"path", path,
		"duration", time.Since(start),
	)
	return nil
}
