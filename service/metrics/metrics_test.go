package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUpstreamCall("etherscan", "200", 0.1)
		m.RecordRateLimitWait("etherscan", 0.2)
		m.RecordCacheRead("tokens", "hit")
		m.RecordOutcome("top_tokens", "success")
		m.RecordBalanceBatch("started")
		m.RecordBalanceFetch("search")
		m.RecordRefreshActivity("refresh_top_tokens", "ok", 1)
		m.RecordHTTPRequest("/health", "GET", 200, 0.01)
		m.RecordSSEConnectionChange("tokens", 1)
		m.RecordSSEEventSent("tokens", "success")
		m.RecordNATSPublish("tokens.top", "ok", 0.01)
	})
}

func TestRecordUpstreamCallGroupsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordUpstreamCall("ethplorer", "200", 0.1)
	m.RecordUpstreamCall("ethplorer", "204", 0.1)
	m.RecordUpstreamCall("ethplorer", "503", 0.1)
	m.RecordUpstreamCall("ethplorer", "error", 0.1)

	assert.Equal(t, 2.0, counterValue(t, m.upstreamCallsTotal.WithLabelValues("ethplorer", "2xx")))
	assert.Equal(t, 1.0, counterValue(t, m.upstreamCallsTotal.WithLabelValues("ethplorer", "5xx")))
	assert.Equal(t, 1.0, counterValue(t, m.upstreamCallsTotal.WithLabelValues("ethplorer", "error")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := HTTPMetricsMiddleware(m, "/api/v1/cache")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1.0, counterValue(t, m.httpRequestsTotal.WithLabelValues("/api/v1/cache", "DELETE", "2xx")))
}

func TestMiddlewarePreservesFlusher(t *testing.T) {
	var flushed bool
	h := HTTPMetricsMiddleware(nil, "/stream")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
		flushed = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.True(t, flushed)
	assert.True(t, rec.Flushed)
}

func TestTimer(t *testing.T) {
	var got float64
	done := Timer(time.Now().Add(-time.Second), func(d float64) { got = d })
	done()
	assert.GreaterOrEqual(t, got, 1.0)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}
