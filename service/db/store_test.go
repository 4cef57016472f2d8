package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/tokensync/service/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestReplaceAndListTokens(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)
	store.Cleanup(t)

	ctx := context.Background()

	list := []tokens.Token{
		{
			Address:  "0xdac17f958d2ee523a2206206994597c13d831ec7",
			Name:     "Tether USD",
			Symbol:   "USDT",
			Decimals: 6,
			Image:    "https://example.com/usdt.png",
			Price: &tokens.Price{
				Rate:         1.0002,
				Currency:     "USD",
				Diff:         ptr(-0.01),
				MarketCapUSD: ptr(9.6e10),
			},
			HoldersCount: ptr(int64(6000000)),
			TotalSupply:  ptr("96000000000000000"),
		},
		{Address: "0x456", Name: "Another Token", Symbol: "ANOTHER", Decimals: 6},
		{Address: "0x123", Name: "Test Token", Symbol: "TEST", Decimals: 18},
	}

	t.Run("round trip preserves order and fields", func(t *testing.T) {
		require.NoError(t, store.ReplaceTokens(ctx, list))

		got, err := store.ListTokens(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, list, got)
	})

	t.Run("replace drops tokens missing from the new list", func(t *testing.T) {
		require.NoError(t, store.ReplaceTokens(ctx, list[1:2]))

		got, err := store.ListTokens(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "0x456", got[0].Address)
		assert.Nil(t, got[0].Price)
	})

	t.Run("cached at reflects last write", func(t *testing.T) {
		ts, err := store.TokensCachedAt(ctx)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), ts, time.Minute)
	})
}

func TestPriceWithoutCurrencyIsAbsent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)
	store.Cleanup(t)

	store.MustExec(t, `INSERT INTO tokens (address, price_rate, position) VALUES ('0xabc', 1.5, 0)`)

	got, err := store.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Price)
}

func TestBalances(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)
	store.Cleanup(t)

	ctx := context.Background()

	_, err := store.GetBalance(ctx, "0x123")
	assert.ErrorIs(t, err, tokens.ErrNotFound)

	require.NoError(t, store.UpsertBalance(ctx, tokens.Balance{TokenAddress: "0x123", Raw: "1000"}))
	require.NoError(t, store.UpsertBalance(ctx, tokens.Balance{TokenAddress: "0x123", Raw: "340282366920938463463374607431768211455"}))

	b, err := store.GetBalance(ctx, "0x123")
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211455", b.Raw)
	assert.WithinDuration(t, time.Now(), b.CachedAt, time.Minute)
}

func TestClear(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	require.NoError(t, store.ReplaceTokens(ctx, []tokens.Token{{Address: "0x1"}}))
	require.NoError(t, store.UpsertBalance(ctx, tokens.Balance{TokenAddress: "0x1", Raw: "5"}))

	require.NoError(t, store.Clear(ctx))

	list, err := store.ListTokens(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.GetBalance(ctx, "0x1")
	assert.ErrorIs(t, err, tokens.ErrNotFound)

	ts, err := store.TokensCachedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}

func TestMigrateIsIdempotent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	require.NoError(t, store.Migrate(context.Background()))
}
