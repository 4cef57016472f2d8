package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/tokensync/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// runApp runs the CLI against serverURL and returns stdout and stderr.
func runApp(t *testing.T, serverURL string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := append([]string{"tokensync", "--server-url", serverURL}, args...)
	err := app.Run(full)
	return stdout.String(), stderr.String(), err
}

func writeEvent(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	w.(http.Flusher).Flush()
}

func TestRemoteTokens_PrintsTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tokens", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("force"))
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "loading", `{}`)
		writeEvent(w, "success", `{"data":[{"address":"0xdac17f958d2ee523a2206206994597c13d831ec7","name":"Tether USD","symbol":"USDT","decimals":6,"image":"","price":{"rate":1.0001,"currency":"USD"}}]}`)
	}))
	defer server.Close()

	stdout, stderr, err := runApp(t, server.URL, "remote", "tokens")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Loading...")
	assert.Contains(t, stdout, "USDT")
	assert.Contains(t, stdout, "Tether USD")
	assert.Contains(t, stdout, "$1.0001")
}

func TestRemoteTokens_ErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "loading", `{}`)
		writeEvent(w, "error", `{"message":"HTTP 503: unavailable","code":503}`)
	}))
	defer server.Close()

	_, stderr, err := runApp(t, server.URL, "remote", "tokens", "--force")
	require.Error(t, err)

	var streamErr *client.StreamError
	require.ErrorAs(t, err, &streamErr)
	require.NotNil(t, streamErr.Code)
	assert.Equal(t, 503, *streamErr.Code)
	assert.Contains(t, stderr, "HTTP 503: unavailable")
}

func TestRemoteTokens_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "success", `{"data":[]}`)
	}))
	defer server.Close()

	stdout, _, err := runApp(t, server.URL, "--json", "remote", "tokens")
	require.NoError(t, err)
	assert.Equal(t, `{"event":"success","payload":{"data":[]}}`+"\n", stdout)
}

func TestRemoteBalance(t *testing.T) {
	const token = "0xdac17f958d2ee523a2206206994597c13d831ec7"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tokens/"+token+"/balance", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "success", `{"data":"1500000"}`)
	}))
	defer server.Close()

	stdout, _, err := runApp(t, server.URL, "remote", "balance", token)
	require.NoError(t, err)
	assert.Equal(t, "1500000\n", stdout)
}

func TestRemoteBalance_RequiresAddress(t *testing.T) {
	_, _, err := runApp(t, "http://127.0.0.1:0", "remote", "balance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token address is required")
}

func TestRemoteClear(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "cleared", status: http.StatusNoContent},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/api/v1/cache", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			stdout, _, err := runApp(t, server.URL, "remote", "clear")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to clear cache")
				return
			}
			require.NoError(t, err)
			assert.Contains(t, stdout, "Cache cleared")
		})
	}
}

func TestRemoteStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token_count":42,"tokens_cached_at":"2026-01-02T03:04:05Z"}`))
	}))
	defer server.Close()

	stdout, _, err := runApp(t, server.URL, "remote", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Tokens cached: 42")
	assert.Contains(t, stdout, "2026-01-02T03:04:05Z")
}

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	stdout, _, err := runApp(t, server.URL, "remote", "health")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Server is healthy")
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, _, err := runApp(t, server.URL, "remote", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy status: 500")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runApp(t, "http://127.0.0.1:0", "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Version: "+version)
}
