package cache

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/tokensync/service/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ReplaceTokensPreservesOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	list := []tokens.Token{
		{Address: "0xccc", Name: "Third by address, first by rank"},
		{Address: "0xaaa", Name: "Second"},
		{Address: "0xbbb", Name: "Third"},
	}
	require.NoError(t, m.ReplaceTokens(ctx, list))

	got, err := m.ListTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, list, got)
}

func TestMemory_ReplaceTokensDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.ReplaceTokens(ctx, []tokens.Token{{Address: "0x1"}, {Address: "0x2"}}))
	require.NoError(t, m.ReplaceTokens(ctx, []tokens.Token{{Address: "0x3"}}))

	got, err := m.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0x3", got[0].Address)
}

func TestMemory_TokensCachedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	ts, err := m.TokensCachedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	require.NoError(t, m.ReplaceTokens(ctx, []tokens.Token{{Address: "0x1"}}))
	ts, err = m.TokensCachedAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixed, ts)
}

func TestMemory_Balances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetBalance(ctx, "0x1")
	assert.ErrorIs(t, err, tokens.ErrNotFound)

	require.NoError(t, m.UpsertBalance(ctx, tokens.Balance{TokenAddress: "0x1", Raw: "100"}))
	require.NoError(t, m.UpsertBalance(ctx, tokens.Balance{TokenAddress: "0x1", Raw: "250"}))

	b, err := m.GetBalance(ctx, "0x1")
	require.NoError(t, err)
	assert.Equal(t, "250", b.Raw)
	assert.False(t, b.CachedAt.IsZero())
}

func TestMemory_Clear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.ReplaceTokens(ctx, []tokens.Token{{Address: "0x1"}}))
	require.NoError(t, m.UpsertBalance(ctx, tokens.Balance{TokenAddress: "0x1", Raw: "1"}))
	require.NoError(t, m.Clear(ctx))

	list, err := m.ListTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = m.GetBalance(ctx, "0x1")
	assert.ErrorIs(t, err, tokens.ErrNotFound)
}
