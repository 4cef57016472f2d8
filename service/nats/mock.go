package nats

import (
	"context"
	"sync"

	"github.com/brojonat/tokensync/service/tokens"
)

// MockPublisher is an in-memory Publisher for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	tokenLists   []*TokenListEvent
	balances     []*BalanceEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTokenList records the event and returns any configured error.
func (m *MockPublisher) PublishTokenList(ctx context.Context, list []tokens.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.tokenLists = append(m.tokenLists, NewTokenListEvent(list))
	return nil
}

// PublishBalance records the event and returns any configured error.
func (m *MockPublisher) PublishBalance(ctx context.Context, b tokens.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.balances = append(m.balances, NewBalanceEvent(b))
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// TokenListEvents returns a copy of the published token list events.
func (m *MockPublisher) TokenListEvents() []*TokenListEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TokenListEvent, len(m.tokenLists))
	copy(events, m.tokenLists)
	return events
}

// BalanceEvents returns a copy of the published balance events.
func (m *MockPublisher) BalanceEvents() []*BalanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*BalanceEvent, len(m.balances))
	copy(events, m.balances)
	return events
}

// SetPublishError makes every subsequent publish return err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

var _ Publisher = (*MockPublisher)(nil)
