// Package cache provides an in-memory tokens.Cache for running without PostgreSQL.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/tokensync/service/tokens"
)

type entry struct {
	token    tokens.Token
	position int
	cachedAt time.Time
}

// Memory is an in-memory implementation of tokens.Cache. It is safe for
// concurrent use and keeps no state across restarts.
type Memory struct {
	mu       sync.RWMutex
	tokens   map[string]entry
	balances map[string]tokens.Balance
	now      func() time.Time
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{
		tokens:   make(map[string]entry),
		balances: make(map[string]tokens.Balance),
		now:      time.Now,
	}
}

// ListTokens returns cached tokens ordered by position.
func (m *Memory) ListTokens(_ context.Context) ([]tokens.Token, error) {
	m.mu.RLock()
	entries := make([]entry, 0, len(m.tokens))
	for _, e := range m.tokens {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].position < entries[j].position })

	out := make([]tokens.Token, len(entries))
	for i, e := range entries {
		out[i] = e.token
	}
	return out, nil
}

// ReplaceTokens discards the cached list and stores list in order.
func (m *Memory) ReplaceTokens(_ context.Context, list []tokens.Token) error {
	now := m.now()
	fresh := make(map[string]entry, len(list))
	for i, t := range list {
		fresh[t.Address] = entry{token: t, position: i, cachedAt: now}
	}

	m.mu.Lock()
	m.tokens = fresh
	m.mu.Unlock()
	return nil
}

// TokensCachedAt returns the newest write time of the token list.
func (m *Memory) TokensCachedAt(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	for _, e := range m.tokens {
		if e.cachedAt.After(latest) {
			latest = e.cachedAt
		}
	}
	return latest, nil
}

// GetBalance returns the balance cached for tokenAddress, or tokens.ErrNotFound.
func (m *Memory) GetBalance(_ context.Context, tokenAddress string) (*tokens.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[tokenAddress]
	if !ok {
		return nil, tokens.ErrNotFound
	}
	return &b, nil
}

// UpsertBalance stores b, replacing any balance for the same token.
func (m *Memory) UpsertBalance(_ context.Context, b tokens.Balance) error {
	if b.CachedAt.IsZero() {
		b.CachedAt = m.now()
	}

	m.mu.Lock()
	m.balances[b.TokenAddress] = b
	m.mu.Unlock()
	return nil
}

// Clear removes all tokens and balances.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.tokens = make(map[string]entry)
	m.balances = make(map[string]tokens.Balance)
	m.mu.Unlock()
	return nil
}

var _ tokens.Cache = (*Memory)(nil)
