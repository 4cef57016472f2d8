package nats

import (
	"time"

	"github.com/brojonat/tokensync/service/tokens"
)

// TokenListEvent is published to SubjectTopTokens after the cached token
// list is refreshed from upstream.
type TokenListEvent struct {
	Tokens      []tokens.Token `json:"tokens"`
	Count       int            `json:"count"`
	PublishedAt time.Time      `json:"published_at"`
}

// BalanceEvent is published to "balances.{token_address}" after a balance
// is refreshed from upstream.
type BalanceEvent struct {
	TokenAddress string    `json:"token_address"`
	Raw          string    `json:"raw"`
	CachedAt     time.Time `json:"cached_at"`
	PublishedAt  time.Time `json:"published_at"`
}

// NewTokenListEvent builds the event for a freshly cached list.
func NewTokenListEvent(list []tokens.Token) *TokenListEvent {
	return &TokenListEvent{
		Tokens:      list,
		Count:       len(list),
		PublishedAt: time.Now().UTC(),
	}
}

// NewBalanceEvent builds the event for a freshly cached balance.
func NewBalanceEvent(b tokens.Balance) *BalanceEvent {
	return &BalanceEvent{
		TokenAddress: b.TokenAddress,
		Raw:          b.Raw,
		CachedAt:     b.CachedAt,
		PublishedAt:  time.Now().UTC(),
	}
}

// BalanceSubject returns the subject balance events for tokenAddress are published on.
func BalanceSubject(tokenAddress string) string {
	return SubjectBalancePrefix + tokenAddress
}
