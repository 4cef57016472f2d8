package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Upstream API metrics
	upstreamCallsTotal   *prometheus.CounterVec
	upstreamCallDuration *prometheus.HistogramVec
	rateLimitWaitsTotal  *prometheus.CounterVec
	rateLimitWaitSeconds *prometheus.HistogramVec

	// Sync metrics
	cacheReadsTotal       *prometheus.CounterVec
	outcomesEmittedTotal  *prometheus.CounterVec
	balanceBatchesTotal   *prometheus.CounterVec
	balanceFetchesTotal   *prometheus.CounterVec
	refreshWorkflowLength *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		upstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_calls_total",
				Help: "Total number of upstream API calls by upstream and HTTP status",
			},
			[]string{"upstream", "status"},
		),
		upstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_call_duration_seconds",
				Help:    "Duration of upstream API calls in seconds, including rate limit waits",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"upstream"},
		),
		rateLimitWaitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_waits_total",
				Help: "Number of calls delayed by a rate governor",
			},
			[]string{"governor"},
		),
		rateLimitWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_wait_seconds",
				Help:    "Time calls spent waiting on a rate governor",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"governor"},
		),

		cacheReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_reads_total",
				Help: "Cache reads by collection and result (hit, miss, error)",
			},
			[]string{"collection", "result"},
		),
		outcomesEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outcomes_emitted_total",
				Help: "Outcome values emitted by sync operations",
			},
			[]string{"operation", "state"},
		),
		balanceBatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_batches_total",
				Help: "Balance fetch batches by event (started, cancelled)",
			},
			[]string{"event"},
		),
		balanceFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_fetches_total",
				Help: "Per-token balance fetches by trigger (search, retry, refresh)",
			},
			[]string{"trigger"},
		),
		refreshWorkflowLength: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_activity_duration_seconds",
				Help:    "Duration of cache refresh activities in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"activity", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"stream"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"stream", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// Upstream metric helpers

// RecordUpstreamCall records one upstream request. status is the HTTP status
// code, or "error" when no response was received.
func (m *Metrics) RecordUpstreamCall(upstream, status string, seconds float64) {
	if m == nil {
		return
	}
	if code, err := strconv.Atoi(status); err == nil {
		status = statusCodeToString(code)
	}
	m.upstreamCallsTotal.WithLabelValues(upstream, status).Inc()
	m.upstreamCallDuration.WithLabelValues(upstream).Observe(seconds)
}

// RecordRateLimitWait records a call delayed by a rate governor.
func (m *Metrics) RecordRateLimitWait(governor string, seconds float64) {
	if m == nil {
		return
	}
	m.rateLimitWaitsTotal.WithLabelValues(governor).Inc()
	m.rateLimitWaitSeconds.WithLabelValues(governor).Observe(seconds)
}

// Sync metric helpers

// RecordCacheRead records a cache lookup. result is hit, miss or error.
func (m *Metrics) RecordCacheRead(collection, result string) {
	if m == nil {
		return
	}
	m.cacheReadsTotal.WithLabelValues(collection, result).Inc()
}

// RecordOutcome records an emitted outcome. state is loading, success or error.
func (m *Metrics) RecordOutcome(operation, state string) {
	if m == nil {
		return
	}
	m.outcomesEmittedTotal.WithLabelValues(operation, state).Inc()
}

// RecordBalanceBatch records a batch lifecycle event.
func (m *Metrics) RecordBalanceBatch(event string) {
	if m == nil {
		return
	}
	m.balanceBatchesTotal.WithLabelValues(event).Inc()
}

// RecordBalanceFetch records one per-token balance fetch.
func (m *Metrics) RecordBalanceFetch(trigger string) {
	if m == nil {
		return
	}
	m.balanceFetchesTotal.WithLabelValues(trigger).Inc()
}

// RecordRefreshActivity records the duration of a refresh activity.
func (m *Metrics) RecordRefreshActivity(activity, status string, seconds float64) {
	if m == nil {
		return
	}
	m.refreshWorkflowLength.WithLabelValues(activity, status).Observe(seconds)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(stream string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(stream).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(stream, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(stream, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
