package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/ethaddr"
	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/tokens"
)

// outcomePayload is the data of one outcome event. Success events carry
// Data, error events carry Message and, for upstream rejections, Code.
type outcomePayload struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    *int   `json:"code,omitempty"`
}

type cacheStatusResponse struct {
	TokenCount     int        `json:"token_count"`
	TokensCachedAt *time.Time `json:"tokens_cached_at,omitempty"`
}

// handleStreamTopTokens streams the top token list.
// GET /api/v1/tokens?force={bool}
func handleStreamTopTokens(svc tokens.Service, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		force, err := parseForce(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sse, err := newSSEWriter(w)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "streaming top tokens", "force", force)
		streamOutcomes(r.Context(), sse, "tokens", svc.GetTopTokens(r.Context(), force), m, logger)
	})
}

// handleStreamBalance streams the configured wallet's balance of one token.
// GET /api/v1/tokens/{address}/balance?force={bool}
func handleStreamBalance(svc tokens.Service, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, err := validateTokenAddress(r.PathValue("address"))
		if err != nil {
			logger.Debug("invalid token address", "address", r.PathValue("address"), "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		force, err := parseForce(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sse, err := newSSEWriter(w)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "streaming token balance", "address", address, "force", force)
		streamOutcomes(r.Context(), sse, "balance", svc.GetTokenBalance(r.Context(), address, force), m, logger)
	})
}

// handleClearCache purges every cached token and balance.
// DELETE /api/v1/cache
func handleClearCache(svc tokens.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearCache(r.Context()); err != nil {
			logger.ErrorContext(r.Context(), "failed to clear cache", "error", err)
			writeError(w, "failed to clear cache", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleCacheStatus reports what is cached.
// GET /api/v1/cache
func handleCacheStatus(cache tokens.Cache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list, err := cache.ListTokens(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list cached tokens", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		cachedAt, err := cache.TokensCachedAt(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read cache timestamp", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := cacheStatusResponse{TokenCount: len(list)}
		if !cachedAt.IsZero() {
			resp.TokensCachedAt = &cachedAt
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// streamOutcomes writes each outcome from ch as an SSE event named after its
// state until ch closes or the client goes away.
func streamOutcomes[T any](ctx context.Context, sse *sseWriter, stream string, ch <-chan outcome.Outcome[T], m *metrics.Metrics, logger *slog.Logger) {
	m.RecordSSEConnectionChange(stream, 1)
	defer m.RecordSSEConnectionChange(stream, -1)

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "SSE client disconnected", "stream", stream)
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.event(o.State(), toPayload(o)); err != nil {
				logger.WarnContext(ctx, "failed to write SSE event", "stream", stream, "error", err)
				return
			}
			m.RecordSSEEventSent(stream, o.State())
		}
	}
}

func toPayload[T any](o outcome.Outcome[T]) outcomePayload {
	var p outcomePayload
	o.OnSuccess(func(v T) {
		p.Data = v
	}).OnError(func(info *outcome.ErrorInfo) {
		p.Message = info.Message
		p.Code = info.Code
	})
	return p
}

// parseForce reads the optional force query parameter.
func parseForce(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("force")
	if raw == "" {
		return false, nil
	}
	force, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid force parameter %q: must be a boolean", raw)
	}
	return force, nil
}

// validateTokenAddress checks for a 0x-prefixed 40 hex digit address and
// returns it lowercased.
func validateTokenAddress(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("address is required")
	}
	if !ethaddr.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address format: must be 0x followed by 40 hex digits")
	}
	return strings.ToLower(address), nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
