package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/metrics"
	natspkg "github.com/brojonat/tokensync/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const keepaliveInterval = 10 * time.Second

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the SSE headers and flushes them.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// event writes one event with v encoded as JSON.
func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	return s.raw(name, data)
}

func (s *sseWriter) raw(name string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// EventStream relays refresh events from JetStream to SSE clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for relaying refresh events.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, js, err := natspkg.Connect(natsURL, "tokensync-sse")
	if err != nil {
		return nil, err
	}

	logger.Info("event stream initialized", "nats_url", natsURL)

	return &EventStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (e *EventStream) Close() error {
	if e.nc != nil {
		e.nc.Close()
		e.logger.Info("event stream closed")
	}
	return nil
}

// eventName maps a subject to the SSE event name used for it.
func eventName(subject string) string {
	if strings.HasPrefix(subject, natspkg.SubjectBalancePrefix) {
		return "balance"
	}
	return "token_list"
}

// handleStreamEvents relays refresh events. With an address path parameter
// only that token's balance events are sent.
// GET /api/v1/stream/events
// GET /api/v1/stream/events/{address}
func handleStreamEvents(events *EventStream, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := jetstream.ConsumerConfig{
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		}
		filter := "all"
		if raw := r.PathValue("address"); raw != "" {
			address, err := validateTokenAddress(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			cfg.FilterSubject = natspkg.BalanceSubject(address)
			filter = address
		}

		sse, err := newSSEWriter(w)
		if err != nil {
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"filter", filter,
			"remote_addr", r.RemoteAddr,
		)
		m.RecordSSEConnectionChange("events", 1)
		defer m.RecordSSEConnectionChange("events", -1)

		// Ephemeral consumer, removed once the connection closes
		cons, err := events.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, cfg)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"filter", filter,
				"error", err,
			)
			sse.event("error", map[string]string{"error": "failed to subscribe"})
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		sse.event("connected", map[string]string{"filter": filter})

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				if err := sse.comment("keepalive"); err != nil {
					return
				}

			case msg := <-msgChan:
				if !json.Valid(msg.Data()) {
					logger.WarnContext(r.Context(), "dropping malformed event", "subject", msg.Subject())
					msg.Ack()
					continue
				}

				name := eventName(msg.Subject())
				if err := sse.raw(name, msg.Data()); err != nil {
					return
				}
				msg.Ack()
				m.RecordSSEEventSent("events", name)

				logger.DebugContext(r.Context(), "sent refresh event",
					"subject", msg.Subject(),
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"filter", filter,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
