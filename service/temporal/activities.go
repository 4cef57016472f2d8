package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/tokens"
	"golang.org/x/sync/errgroup"
)

// DefaultBalanceConcurrency bounds the balance fetches one RefreshBalances
// activity runs at once. The Etherscan governor still paces the requests.
const DefaultBalanceConcurrency = 4

// RefreshInput contains the input parameters for a refresh run.
type RefreshInput struct {
	// Addresses limits the balance refresh to these tokens. Empty means
	// every token of the refreshed list.
	Addresses []string `json:"addresses,omitempty"`
	// Force bypasses the cached values and always reports upstream failures.
	Force bool `json:"force"`
}

// RefreshResult summarizes a refresh run.
type RefreshResult struct {
	StartedAt         time.Time `json:"started_at"`
	TokenCount        int       `json:"token_count"`
	BalancesRefreshed int       `json:"balances_refreshed"`
	BalancesFailed    int       `json:"balances_failed"`
	Error             *string   `json:"error,omitempty"`
}

// RefreshTopTokensInput contains parameters for the RefreshTopTokens activity.
type RefreshTopTokensInput struct {
	Force bool `json:"force"`
}

// RefreshTopTokensResult contains the result of the RefreshTopTokens activity.
type RefreshTopTokensResult struct {
	Addresses []string `json:"addresses"`
}

// RefreshBalancesInput contains parameters for the RefreshBalances activity.
type RefreshBalancesInput struct {
	Addresses []string `json:"addresses,omitempty"`
	Force     bool     `json:"force"`
}

// RefreshBalancesResult contains the result of the RefreshBalances activity.
type RefreshBalancesResult struct {
	Refreshed int               `json:"refreshed"`
	Failed    map[string]string `json:"failed,omitempty"` // address -> error message
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	svc         tokens.Service
	cache       tokens.Cache
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(svc tokens.Service, cache tokens.Cache, concurrency int, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultBalanceConcurrency
	}
	return &Activities{
		svc:         svc,
		cache:       cache,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
	}
}

// RefreshTopTokens refreshes the cached top token list and returns the
// addresses of the tokens it now holds.
func (a *Activities) RefreshTopTokens(ctx context.Context, input RefreshTopTokensInput) (*RefreshTopTokensResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		a.metrics.RecordRefreshActivity("RefreshTopTokens", status, time.Since(start).Seconds())
	}()

	a.logger.DebugContext(ctx, "refreshing top tokens", "force", input.Force)

	list, err := terminal(ctx, a.svc.GetTopTokens(ctx, input.Force))
	if err != nil {
		status = "error"
		a.logger.ErrorContext(ctx, "failed to refresh top tokens", "error", err)
		return nil, fmt.Errorf("failed to refresh top tokens: %w", err)
	}

	result := &RefreshTopTokensResult{Addresses: make([]string, len(list))}
	for i, t := range list {
		result.Addresses[i] = t.Address
	}

	a.logger.InfoContext(ctx, "refreshed top tokens", "count", len(list))
	return result, nil
}

// RefreshBalances refreshes the cached balance of each address. Addresses
// default to the cached token list. A failed balance is reported in the
// result rather than failing the activity.
func (a *Activities) RefreshBalances(ctx context.Context, input RefreshBalancesInput) (*RefreshBalancesResult, error) {
	start := time.Now()
	status := "success"
	defer func() {
		a.metrics.RecordRefreshActivity("RefreshBalances", status, time.Since(start).Seconds())
	}()

	addresses := input.Addresses
	if len(addresses) == 0 {
		list, err := a.cache.ListTokens(ctx)
		if err != nil {
			status = "error"
			a.logger.ErrorContext(ctx, "failed to list cached tokens", "error", err)
			return nil, fmt.Errorf("failed to list cached tokens: %w", err)
		}
		for _, t := range list {
			addresses = append(addresses, t.Address)
		}
	}

	a.logger.DebugContext(ctx, "refreshing balances",
		"count", len(addresses),
		"force", input.Force,
		"concurrency", a.concurrency,
	)

	var mu sync.Mutex
	result := &RefreshBalancesResult{}

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for _, addr := range addresses {
		g.Go(func() error {
			_, err := terminal(ctx, a.svc.GetTokenBalance(ctx, addr, input.Force))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if result.Failed == nil {
					result.Failed = make(map[string]string)
				}
				result.Failed[addr] = err.Error()
				return nil
			}
			result.Refreshed++
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		status = "error"
		return nil, fmt.Errorf("balance refresh interrupted: %w", err)
	}

	if len(result.Failed) > 0 {
		status = "partial"
		a.logger.WarnContext(ctx, "some balances failed to refresh",
			"refreshed", result.Refreshed,
			"failed", len(result.Failed),
		)
	} else {
		a.logger.InfoContext(ctx, "refreshed balances", "refreshed", result.Refreshed)
	}

	return result, nil
}

var errNoResult = errors.New("stream closed without a result")

// terminal drains ch and converts its last outcome into a value or an error.
func terminal[T any](ctx context.Context, ch <-chan outcome.Outcome[T]) (T, error) {
	last := outcome.Last(ch)
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	if last.IsLoading() {
		var zero T
		return zero, errNoResult
	}
	if last.IsError() {
		var zero T
		return zero, last.Err()
	}
	v, _ := last.Get()
	return v, nil
}
