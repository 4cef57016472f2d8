package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server exposing the token service.
type Server struct {
	addr    string
	svc     tokens.Service
	cache   tokens.Cache
	events  *EventStream
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The events stream is optional - if nil, the event streaming endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, svc tokens.Service, cache tokens.Cache, events *EventStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		svc:     svc,
		cache:   cache,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		if s.metrics != nil {
			h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
		}
		mux.Handle(pattern, h)
	}

	// Token routes. Both GETs stream outcomes as server-sent events.
	route("GET /api/v1/tokens", "/api/v1/tokens", handleStreamTopTokens(s.svc, s.metrics, s.logger))
	route("GET /api/v1/tokens/{address}/balance", "/api/v1/tokens/{address}/balance", handleStreamBalance(s.svc, s.metrics, s.logger))

	// Cache routes
	route("GET /api/v1/cache", "/api/v1/cache", handleCacheStatus(s.cache, s.logger))
	route("DELETE /api/v1/cache", "/api/v1/cache", handleClearCache(s.svc, s.logger))

	// Refresh event streaming (if NATS is configured)
	if s.events != nil {
		mux.Handle("GET /api/v1/stream/events", handleStreamEvents(s.events, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/events/{address}", handleStreamEvents(s.events, s.metrics, s.logger))
		s.logger.Info("event streaming endpoints enabled")
	} else {
		s.logger.Warn("NATS not configured, event streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Outcome and event streams stay open, so there is no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the event stream first (disconnects all clients)
	if s.events != nil {
		s.events.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
