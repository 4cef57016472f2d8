package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/tokensync/service/cache"
	"github.com/brojonat/tokensync/service/config"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		NATSURL:            "nats://127.0.0.1:1",
		EthplorerBaseURL:   upstreamURL,
		EthplorerAPIKey:    "freekey",
		EtherscanBaseURL:   upstreamURL,
		EtherscanAPIKey:    "secret",
		EtherscanRateLimit: 4,
		WalletAddress:      "0x1111111111111111111111111111111111111111",
		TopTokensLimit:     50,
		HTTPTimeout:        5 * time.Second,
	}
}

func TestBuild_InMemory(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getTopTokens", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"tokens":[{"address":"0xdac17f958d2ee523a2206206994597c13d831ec7","name":"Tether USD","symbol":"USDT","decimals":"6","price":false}]}`))
	}))
	defer up.Close()

	// publish=false never dials the configured NATS URL
	deps, err := Build(context.Background(), testConfig(up.URL), nil, SetupLogger("error"), false)
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.Store)
	assert.Nil(t, deps.Publisher)
	assert.IsType(t, &cache.Memory{}, deps.Cache)

	last := outcome.Last(deps.Service.GetTopTokens(context.Background(), false))
	list, err := last.Unwrap()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "USDT", list[0].Symbol)

	cached, err := deps.Cache.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestBuild_InvalidRateLimit(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.EtherscanRateLimit = 0

	_, err := Build(context.Background(), cfg, nil, SetupLogger("error"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create rate governor")
}

func TestBuild_UnreachableNATS(t *testing.T) {
	_, err := Build(context.Background(), testConfig("http://127.0.0.1:0"), nil, SetupLogger("error"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create NATS publisher")
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := SetupLogger(tt.level)
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.want-4))
			}
		})
	}
}
