package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/tokensync/service/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceSubject(t *testing.T) {
	assert.Equal(t, "balances.0xdac17f958d2ee523a2206206994597c13d831ec7",
		BalanceSubject("0xdac17f958d2ee523a2206206994597c13d831ec7"))
}

func TestEventsMarshal(t *testing.T) {
	cachedAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewBalanceEvent(tokens.Balance{TokenAddress: "0x123", Raw: "42", CachedAt: cachedAt})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "0x123", decoded["token_address"])
	assert.Equal(t, "42", decoded["raw"])
	assert.Equal(t, "2025-01-02T03:04:05Z", decoded["cached_at"])

	list := NewTokenListEvent([]tokens.Token{{Address: "0x1"}, {Address: "0x2"}})
	assert.Equal(t, 2, list.Count)
	assert.False(t, list.PublishedAt.IsZero())
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishTokenList(ctx, []tokens.Token{{Address: "0x1"}}))
	require.NoError(t, m.PublishBalance(ctx, tokens.Balance{TokenAddress: "0x1", Raw: "5"}))

	assert.Len(t, m.TokenListEvents(), 1)
	require.Len(t, m.BalanceEvents(), 1)
	assert.Equal(t, "5", m.BalanceEvents()[0].Raw)

	boom := errors.New("nats down")
	m.SetPublishError(boom)
	assert.ErrorIs(t, m.PublishBalance(ctx, tokens.Balance{TokenAddress: "0x2"}), boom)
	assert.Len(t, m.BalanceEvents(), 1)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
