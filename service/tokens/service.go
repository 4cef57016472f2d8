// Package tokens keeps a cached view of the top ERC-20 tokens and the
// configured wallet's balance of each one consistent with the upstream APIs.
package tokens

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/upstream"
)

// DefaultTopTokensLimit is the number of tokens requested when Config leaves it unset.
const DefaultTopTokensLimit = upstream.DefaultTopTokensLimit

// Service is the surface exposed to callers. Streams are finite: they are
// closed after the terminal outcome or when ctx is cancelled.
type Service interface {
	GetTopTokens(ctx context.Context, force bool) <-chan outcome.Outcome[[]Token]
	GetTokenBalance(ctx context.Context, tokenAddress string, force bool) <-chan outcome.Outcome[string]
	ClearCache(ctx context.Context) error
}

// TopTokensSource fetches the authoritative top-token list.
type TopTokensSource interface {
	GetTopTokens(ctx context.Context, limit int) ([]upstream.TokenRecord, error)
}

// BalanceSource fetches the raw balance of contract held by wallet.
type BalanceSource interface {
	GetTokenBalance(ctx context.Context, contract, wallet string) (string, error)
}

// EventPublisher is notified after fresh data has been cached.
type EventPublisher interface {
	PublishTokenList(ctx context.Context, list []Token) error
	PublishBalance(ctx context.Context, b Balance) error
}

// Config holds the SyncService settings.
type Config struct {
	// WalletAddress is the account whose balances are fetched.
	WalletAddress string
	// TopTokensLimit is the number of tokens requested from upstream.
	TopTokensLimit int
}

// Option configures a SyncService.
type Option func(*SyncService)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SyncService) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SyncService) { s.metrics = m }
}

// WithPublisher publishes refresh events to p.
func WithPublisher(p EventPublisher) Option {
	return func(s *SyncService) { s.publisher = p }
}

// SyncService implements Service with a cache-then-network protocol.
type SyncService struct {
	cache     Cache
	lists     TopTokensSource
	balances  BalanceSource
	publisher EventPublisher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewSyncService creates a SyncService.
func NewSyncService(cache Cache, lists TopTokensSource, balances BalanceSource, cfg Config, opts ...Option) *SyncService {
	if cfg.TopTokensLimit <= 0 {
		cfg.TopTokensLimit = DefaultTopTokensLimit
	}
	s := &SyncService{
		cache:    cache,
		lists:    lists,
		balances: balances,
		cfg:      cfg,
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTopTokens streams the top-token list.
//
// Without force, the cached list is emitted first when there is one and
// Loading is emitted otherwise. With force, Loading is always emitted first.
// The network result follows: on success the cache is replaced and the fresh
// list is emitted, on failure the error is emitted.
func (s *SyncService) GetTopTokens(ctx context.Context, force bool) <-chan outcome.Outcome[[]Token] {
	out := make(chan outcome.Outcome[[]Token], 2)

	go func() {
		defer close(out)
		emit := func(o outcome.Outcome[[]Token]) bool {
			s.metrics.RecordOutcome("top_tokens", o.State())
			return send(ctx, out, o)
		}

		first := outcome.Loading[[]Token]()
		if !force {
			if cached := s.cachedTokens(ctx); len(cached) > 0 {
				first = outcome.Success(cached)
			}
		}
		if !emit(first) {
			return
		}

		result := outcome.Call(ctx, s.logger, s.fetchTopTokens)
		if ctx.Err() != nil {
			return
		}
		result.OnSuccess(func(list []Token) { s.storeTokens(ctx, list) })
		emit(result)
	}()

	return out
}

// GetTokenBalance streams the wallet's raw balance of tokenAddress.
//
// It follows the same protocol as GetTopTokens except that, when not forced,
// a network failure is dropped if a balance is cached for the address. The
// cached value then stands as the only emission.
func (s *SyncService) GetTokenBalance(ctx context.Context, tokenAddress string, force bool) <-chan outcome.Outcome[string] {
	tokenAddress = strings.ToLower(tokenAddress)
	out := make(chan outcome.Outcome[string], 2)

	go func() {
		defer close(out)
		emit := func(o outcome.Outcome[string]) bool {
			s.metrics.RecordOutcome("token_balance", o.State())
			return send(ctx, out, o)
		}

		first := outcome.Loading[string]()
		if !force {
			if b := s.cachedBalance(ctx, tokenAddress); b != nil {
				first = outcome.Success(b.Raw)
			}
		}
		if !emit(first) {
			return
		}

		result := outcome.Call(ctx, s.logger, func(ctx context.Context) (string, error) {
			return s.balances.GetTokenBalance(ctx, tokenAddress, s.cfg.WalletAddress)
		})
		if ctx.Err() != nil {
			return
		}

		if result.IsError() && !force && s.cachedBalance(ctx, tokenAddress) != nil {
			s.logger.DebugContext(ctx, "keeping cached balance after fetch failure",
				"token_address", tokenAddress,
				"error", result.Err().Message,
			)
			return
		}

		result.OnSuccess(func(raw string) { s.storeBalance(ctx, tokenAddress, raw) })
		emit(result)
	}()

	return out
}

// ClearCache removes every cached token and balance.
func (s *SyncService) ClearCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "cache cleared")
	return nil
}

func (s *SyncService) fetchTopTokens(ctx context.Context) ([]Token, error) {
	records, err := s.lists.GetTopTokens(ctx, s.cfg.TopTokensLimit)
	if err != nil {
		return nil, err
	}
	list := make([]Token, len(records))
	for i, rec := range records {
		list[i] = FromRecord(rec)
	}
	return list, nil
}

func (s *SyncService) cachedTokens(ctx context.Context) []Token {
	list, err := s.cache.ListTokens(ctx)
	if err != nil {
		s.metrics.RecordCacheRead("tokens", "error")
		s.logger.WarnContext(ctx, "failed to read cached tokens", "error", err)
		return nil
	}
	if len(list) == 0 {
		s.metrics.RecordCacheRead("tokens", "miss")
		return nil
	}
	s.metrics.RecordCacheRead("tokens", "hit")
	return list
}

func (s *SyncService) cachedBalance(ctx context.Context, tokenAddress string) *Balance {
	b, err := s.cache.GetBalance(ctx, tokenAddress)
	switch {
	case errors.Is(err, ErrNotFound):
		s.metrics.RecordCacheRead("balances", "miss")
		return nil
	case err != nil:
		s.metrics.RecordCacheRead("balances", "error")
		s.logger.WarnContext(ctx, "failed to read cached balance",
			"token_address", tokenAddress,
			"error", err,
		)
		return nil
	}
	s.metrics.RecordCacheRead("balances", "hit")
	return b
}

func (s *SyncService) storeTokens(ctx context.Context, list []Token) {
	if err := s.cache.ReplaceTokens(ctx, list); err != nil {
		s.logger.ErrorContext(ctx, "failed to cache tokens", "count", len(list), "error", err)
		return
	}
	s.logger.DebugContext(ctx, "cached tokens", "count", len(list))

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTokenList(ctx, list); err != nil {
		s.logger.WarnContext(ctx, "failed to publish token list event", "error", err)
	}
}

func (s *SyncService) storeBalance(ctx context.Context, tokenAddress, raw string) {
	b := Balance{TokenAddress: tokenAddress, Raw: raw, CachedAt: s.now().UTC()}
	if err := s.cache.UpsertBalance(ctx, b); err != nil {
		s.logger.ErrorContext(ctx, "failed to cache balance",
			"token_address", tokenAddress,
			"error", err,
		)
		return
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBalance(ctx, b); err != nil {
		s.logger.WarnContext(ctx, "failed to publish balance event",
			"token_address", tokenAddress,
			"error", err,
		)
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Service = (*SyncService)(nil)
