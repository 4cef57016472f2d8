package server_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/brojonat/tokensync/client"
	"github.com/brojonat/tokensync/service/cache"
	"github.com/brojonat/tokensync/service/ratelimit"
	"github.com/brojonat/tokensync/service/server"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/brojonat/tokensync/service/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdt   = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	wallet = "0x1111111111111111111111111111111111111111"
)

// fakeUpstream serves both the Ethplorer and Etherscan endpoints. Setting
// failing makes every balance request return a 500.
func fakeUpstream(t *testing.T, failing *atomic.Bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/getTopTokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tokens":[
			{"address":"0xdAC17F958D2ee523a2206206994597C13D831ec7","name":"Tether USD","symbol":"USDT","decimals":"6","price":{"rate":1.0}},
			{"address":"0x6b175474e89094c44da98b954eedeac495271d0f","name":"Dai","symbol":"DAI","decimals":18,"price":false}
		]}`))
	})
	mux.HandleFunc("/v2/api", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wallet, r.URL.Query().Get("address"))
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream down"))
			return
		}
		w.Write([]byte(`{"status":"1","message":"OK","result":"1500000"}`))
	})
	return httptest.NewServer(mux)
}

// TestServerIntegration runs the client against the real handler stack,
// sync service and in-memory cache, with faked upstream APIs.
func TestServerIntegration(t *testing.T) {
	var failing atomic.Bool
	up := fakeUpstream(t, &failing)
	defer up.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	governor, err := ratelimit.NewGovernor(upstream.DefaultEtherscanRateLimit)
	require.NoError(t, err)

	store := cache.NewMemory()
	svc := tokens.NewSyncService(
		store,
		upstream.NewEthplorer(up.URL, "freekey"),
		upstream.NewEtherscan(up.URL, "secret", governor),
		tokens.Config{WalletAddress: wallet},
		tokens.WithLogger(logger),
	)

	srv := server.New(":0", svc, store, nil, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := client.NewClient(ts.URL, nil, nil)
	ctx := context.Background()

	t.Run("cold token list", func(t *testing.T) {
		var types []string
		err := c.StreamTopTokens(ctx, false, func(e client.Event) error {
			types = append(types, e.Type)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{client.EventLoading, client.EventSuccess}, types)

		status, err := c.CacheStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, status.TokenCount)
		assert.NotNil(t, status.TokensCachedAt)
	})

	t.Run("warm token list", func(t *testing.T) {
		list, err := c.TopTokens(ctx, false)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, usdt, list[0].Address)
		assert.Equal(t, 6, list[0].Decimals)
		require.NotNil(t, list[0].Price)
		assert.Equal(t, "USD", list[0].Price.Currency)
		assert.Equal(t, 18, list[1].Decimals)
		assert.Nil(t, list[1].Price)
	})

	t.Run("balance", func(t *testing.T) {
		raw, err := c.Balance(ctx, usdt, false)
		require.NoError(t, err)
		assert.Equal(t, "1500000", raw)
	})

	t.Run("failed refresh keeps cached balance", func(t *testing.T) {
		failing.Store(true)
		defer failing.Store(false)

		var types []string
		err := c.StreamBalance(ctx, usdt, false, func(e client.Event) error {
			types = append(types, e.Type)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{client.EventSuccess}, types)
	})

	t.Run("forced balance reports failure", func(t *testing.T) {
		failing.Store(true)
		defer failing.Store(false)

		_, err := c.Balance(ctx, usdt, true)
		require.Error(t, err)

		var se *client.StreamError
		require.ErrorAs(t, err, &se)
		require.NotNil(t, se.Code)
		assert.Equal(t, http.StatusInternalServerError, *se.Code)
	})

	t.Run("clear cache", func(t *testing.T) {
		require.NoError(t, c.ClearCache(ctx))

		status, err := c.CacheStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, status.TokenCount)
		assert.Nil(t, status.TokensCachedAt)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := c.Balance(ctx, "0x1234", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid address format")
	})
}

func TestHealthEndpoint(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := server.New(":0", nil, cache.NewMemory(), nil, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
