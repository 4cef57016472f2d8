package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes cache refresh events. It satisfies tokens.EventPublisher.
type Publisher interface {
	// PublishTokenList publishes to SubjectTopTokens.
	PublishTokenList(ctx context.Context, list []tokens.Token) error

	// PublishBalance publishes to "balances.{token_address}".
	PublishBalance(ctx context.Context, b tokens.Balance) error

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the JetStream stream holding refresh events.
	StreamName = "TOKENSYNC"

	// SubjectTopTokens carries TokenListEvent messages.
	SubjectTopTokens = "tokens.top"

	// SubjectBalancePrefix prefixes the per-token BalanceEvent subjects.
	SubjectBalancePrefix = "balances."

	// StreamRetention is how long events are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// StreamSubjects are the subject filters the stream captures.
var StreamSubjects = []string{"tokens.>", "balances.>"}

// JetStreamPublisher publishes refresh events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Connect dials NATS with the reconnect policy shared by every component.
func Connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, js, err := Connect(natsURL, "tokensync-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if stream, err := p.js.Stream(ctx, StreamName); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Token list and balance refresh events",
		Subjects:    StreamSubjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishTokenList publishes a TokenListEvent.
func (p *JetStreamPublisher) PublishTokenList(ctx context.Context, list []tokens.Token) error {
	return p.publish(ctx, SubjectTopTokens, NewTokenListEvent(list))
}

// PublishBalance publishes a BalanceEvent.
func (p *JetStreamPublisher) PublishBalance(ctx context.Context, b tokens.Balance) error {
	return p.publish(ctx, BalanceSubject(b.TokenAddress), NewBalanceEvent(b))
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.RecordNATSPublish(subject, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.metrics.RecordNATSPublish(subject, "ok", time.Since(start).Seconds())
	p.logger.DebugContext(ctx, "published event", "subject", subject, "bytes", len(data))
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

var _ Publisher = (*JetStreamPublisher)(nil)
