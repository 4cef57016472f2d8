// Package app builds the sync service and its dependencies from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/tokensync/service/cache"
	"github.com/brojonat/tokensync/service/config"
	"github.com/brojonat/tokensync/service/db"
	"github.com/brojonat/tokensync/service/metrics"
	natspkg "github.com/brojonat/tokensync/service/nats"
	"github.com/brojonat/tokensync/service/ratelimit"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/brojonat/tokensync/service/upstream"
)

// Deps holds the wired sync service and everything it owns.
type Deps struct {
	Cache   tokens.Cache
	Service *tokens.SyncService

	// Store is nil when the in-memory cache is used.
	Store *db.Store
	// Publisher is nil when NATS is not configured or publishing was not requested.
	Publisher *natspkg.JetStreamPublisher

	closers []func()
}

// Close releases the database pool and NATS connection.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Build connects the cache, the upstream clients and, when publish is set
// and NATS is configured, the event publisher. An empty DatabaseURL selects
// the in-memory cache. m may be nil.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, publish bool) (*Deps, error) {
	d := &Deps{}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		d.Store = db.NewStore(pool)
		d.Cache = d.Store
		logger.Info("connected to database")
	} else {
		d.Cache = cache.NewMemory()
		logger.Warn("DATABASE_URL not set, using in-memory cache")
	}

	governor, err := ratelimit.NewGovernor(cfg.EtherscanRateLimit, ratelimit.WithRecorder("etherscan", m))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create rate governor: %w", err)
	}

	upstreamOpts := []upstream.Option{
		upstream.WithTimeout(cfg.HTTPTimeout),
		upstream.WithLogger(logger),
		upstream.WithRecorder(m),
	}
	ethplorer := upstream.NewEthplorer(cfg.EthplorerBaseURL, cfg.EthplorerAPIKey, upstreamOpts...)
	etherscan := upstream.NewEtherscan(cfg.EtherscanBaseURL, cfg.EtherscanAPIKey, governor, upstreamOpts...)
	logger.Info("initialized upstream clients",
		"ethplorer", cfg.EthplorerBaseURL,
		"etherscan", cfg.EtherscanBaseURL,
		"etherscan_rate_limit", cfg.EtherscanRateLimit,
	)

	opts := []tokens.Option{
		tokens.WithLogger(logger),
		tokens.WithMetrics(m),
	}

	if publish && cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		d.closers = append(d.closers, func() { publisher.Close() })
		d.Publisher = publisher
		opts = append(opts, tokens.WithPublisher(publisher))
	}

	d.Service = tokens.NewSyncService(
		d.Cache,
		ethplorer,
		etherscan,
		tokens.Config{
			WalletAddress:  cfg.WalletAddress,
			TopTokensLimit: cfg.TopTokensLimit,
		},
		opts...,
	)

	return d, nil
}

// SetupLogger creates a structured logger with the given log level.
func SetupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
