package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type waitRecorder struct {
	mu    sync.Mutex
	waits []float64
}

func (r *waitRecorder) RecordRateLimitWait(name string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, seconds)
}

func TestNewGovernor_Validation(t *testing.T) {
	_, err := NewGovernor(0)
	assert.Error(t, err)

	_, err = NewGovernor(1, WithWindow(0))
	assert.Error(t, err)

	g, err := NewGovernor(4)
	require.NoError(t, err)
	assert.Equal(t, time.Second, g.window)
}

func TestGovernor_UnderQuotaDoesNotWait(t *testing.T) {
	g, err := NewGovernor(4, WithWindow(time.Second))
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 4, g.InWindow())
}

func TestGovernor_OverQuotaWaitsForOldestToExpire(t *testing.T) {
	rec := &waitRecorder{}
	window := 150 * time.Millisecond
	g, err := NewGovernor(2, WithWindow(window), WithRecorder("test", rec))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, g.Wait(ctx))
	require.NoError(t, g.Wait(ctx))

	start := time.Now()
	require.NoError(t, g.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, window+200*time.Millisecond)
	assert.Len(t, rec.waits, 1)
}

func TestGovernor_NeverMoreThanLimitInAnyWindow(t *testing.T) {
	window := 100 * time.Millisecond
	limit := 3
	g, err := NewGovernor(limit, WithWindow(window))
	require.NoError(t, err)

	var mu sync.Mutex
	var admitted []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Wait(context.Background()))
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, admitted, 9)
	slices.SortFunc(admitted, func(a, b time.Time) int { return a.Compare(b) })
	// Any limit+1 consecutive admissions must span at least one window,
	// minus a little scheduling slack.
	for i := limit; i < len(admitted); i++ {
		span := admitted[i].Sub(admitted[i-limit])
		assert.GreaterOrEqual(t, span, window-20*time.Millisecond, "admission %d", i)
	}
}

func TestGovernor_WaitHonoursContext(t *testing.T) {
	g, err := NewGovernor(1, WithWindow(time.Minute))
	require.NoError(t, err)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = g.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.InWindow())
}

func TestTransport_PacesRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g, err := NewGovernor(2, WithWindow(120*time.Millisecond))
	require.NoError(t, err)
	client := &http.Client{Transport: g.Transport(nil)}

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, int32(3), hits.Load())
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
