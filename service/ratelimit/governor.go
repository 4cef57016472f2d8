// Package ratelimit paces outbound calls with a sliding time window.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultWindow is the sliding window length used by NewGovernor.
const DefaultWindow = time.Second

// Recorder receives a notification each time a caller had to wait.
// *metrics.Metrics satisfies it.
type Recorder interface {
	RecordRateLimitWait(name string, seconds float64)
}

// Governor admits at most limit calls within any window-long interval.
// Calls over quota are delayed, never rejected.
//
// Admission is serialized: a caller holds the governor for the whole of
// purge, wait and record, so concurrent callers queue behind a waiting one.
type Governor struct {
	name   string
	limit  int
	window time.Duration

	// sem is a one-slot lock whose acquisition can be abandoned on ctx.
	sem        chan struct{}
	timestamps []time.Time

	now      func() time.Time
	recorder Recorder
}

// Option configures a Governor.
type Option func(*Governor)

// WithWindow overrides the window length.
func WithWindow(window time.Duration) Option {
	return func(g *Governor) {
		g.window = window
	}
}

// WithRecorder reports waits to r.
func WithRecorder(name string, r Recorder) Option {
	return func(g *Governor) {
		g.name = name
		g.recorder = r
	}
}

// NewGovernor creates a governor admitting limit calls per window.
func NewGovernor(limit int, opts ...Option) (*Governor, error) {
	if limit < 1 {
		return nil, fmt.Errorf("rate limit must be at least 1, got %d", limit)
	}
	g := &Governor{
		name:   "default",
		limit:  limit,
		window: DefaultWindow,
		sem:    make(chan struct{}, 1),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", g.window)
	}
	return g, nil
}

// Wait blocks until the caller may proceed and then records the call.
// It returns ctx.Err() if ctx ends first, in which case nothing is recorded.
func (g *Governor) Wait(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	now := g.now()
	g.purge(now)

	if len(g.timestamps) >= g.limit {
		wait := g.timestamps[0].Add(g.window).Sub(now)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			if g.recorder != nil {
				g.recorder.RecordRateLimitWait(g.name, wait.Seconds())
			}
			g.purge(g.now())
		}
	}

	g.timestamps = append(g.timestamps, g.now())
	return nil
}

// InWindow returns the number of calls recorded within the current window.
func (g *Governor) InWindow() int {
	g.sem <- struct{}{}
	defer func() { <-g.sem }()
	g.purge(g.now())
	return len(g.timestamps)
}

// purge drops timestamps that have left the window. Callers hold sem.
func (g *Governor) purge(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.timestamps) && !g.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.timestamps = append(g.timestamps[:0], g.timestamps[i:]...)
	}
}

// Transport returns an http.RoundTripper that waits on the governor before
// every request. A nil next uses http.DefaultTransport.
func (g *Governor) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &transport{governor: g, next: next}
}

type transport struct {
	governor *Governor
	next     http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.governor.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
