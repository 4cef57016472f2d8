package tokens

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Cache.GetBalance when nothing is cached for an address.
var ErrNotFound = errors.New("not found")

// Cache persists the last good token list and per-token balances.
// Each method must be atomic on its own; no transaction spans calls.
type Cache interface {
	// ListTokens returns the cached list ordered by the position it was stored with.
	ListTokens(ctx context.Context) ([]Token, error)

	// ReplaceTokens discards the cached list and stores tokens, recording each
	// token's slice index as its position.
	ReplaceTokens(ctx context.Context, tokens []Token) error

	// TokensCachedAt returns when the list was last written, or the zero time if it is empty.
	TokensCachedAt(ctx context.Context) (time.Time, error)

	// GetBalance returns the cached balance for a token address, or ErrNotFound.
	GetBalance(ctx context.Context, tokenAddress string) (*Balance, error)

	// UpsertBalance stores b, overwriting any balance for the same address.
	UpsertBalance(ctx context.Context, b Balance) error

	// Clear removes every cached token and balance.
	Clear(ctx context.Context) error
}
