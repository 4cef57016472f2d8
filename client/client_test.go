package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, wantPath string, frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}
}

func TestStreamTopTokens_Events(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, "/api/v1/tokens",
		"event: loading\ndata: {}\n\n",
		": keepalive\n\n",
		"event: success\ndata: {\"data\":[{\"address\":\"0x123\",\"symbol\":\"TEST\"}]}\n\n",
	))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	var events []Event
	err := client.StreamTopTokens(context.Background(), false, func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventLoading, events[0].Type)
	assert.Equal(t, EventSuccess, events[1].Type)

	p, err := events[1].Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"address":"0x123","symbol":"TEST"}]`, string(p.Data))
}

func TestStreamTopTokens_ForceQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.StreamTopTokens(context.Background(), true, func(Event) error { return nil })
	assert.NoError(t, err)
}

func TestStreamTopTokens_CallbackErrorStops(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, "/api/v1/tokens",
		"event: loading\ndata: {}\n\n",
		"event: success\ndata: {\"data\":[]}\n\n",
	))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	stop := fmt.Errorf("stop")
	calls := 0
	err := client.StreamTopTokens(context.Background(), false, func(Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestTopTokens_Success(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, "/api/v1/tokens",
		"event: loading\ndata: {}\n\n",
		"event: success\ndata: {\"data\":[{\"address\":\"0x123\",\"name\":\"Test Token\",\"symbol\":\"TEST\",\"decimals\":18}]}\n\n",
	))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	list, err := client.TopTokens(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0x123", list[0].Address)
	assert.Equal(t, "Test Token", list[0].Name)
	assert.Equal(t, 18, list[0].Decimals)
}

func TestTopTokens_ErrorEvent(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, "/api/v1/tokens",
		"event: loading\ndata: {}\n\n",
		"event: error\ndata: {\"message\":\"HTTP 500: boom\",\"code\":500}\n\n",
	))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	list, err := client.TopTokens(context.Background(), true)
	require.Error(t, err)
	assert.Nil(t, list)
	assert.True(t, IsStreamError(err))

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "HTTP 500: boom", se.Message)
	require.NotNil(t, se.Code)
	assert.Equal(t, 500, *se.Code)
}

func TestBalance_CachedValueKeptWhenRefreshSuppressed(t *testing.T) {
	address := "0xdac17f958d2ee523a2206206994597c13d831ec7"
	server := httptest.NewServer(sseHandler(t, "/api/v1/tokens/"+address+"/balance",
		"event: success\ndata: {\"data\":\"1500000\"}\n\n",
	))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	raw, err := client.Balance(context.Background(), address, false)
	require.NoError(t, err)
	assert.Equal(t, "1500000", raw)
}

func TestStreamBalance_BadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid address format: must be 0x followed by 40 hex digits",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.StreamBalance(context.Background(), "nope", false, func(Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address format")
	assert.False(t, IsStreamError(err))
}

func TestClearCache_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/cache", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.ClearCache(context.Background()))
}

func TestClearCache_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.ClearCache(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "oops")
}

func TestCacheStatus_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/cache", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token_count":3,"tokens_cached_at":"2024-01-02T03:04:05Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	status, err := client.CacheStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.TokenCount)
	require.NotNil(t, status.TokensCachedAt)
	assert.Equal(t, 2024, status.TokensCachedAt.Year())
}

func TestReadEvents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "multi-line data is joined",
			input: "event: success\ndata: {\"data\":\ndata: 1}\n\n",
			want:  []Event{{Type: "success", Data: json.RawMessage("{\"data\":\n1}")}},
		},
		{
			name:  "missing event name defaults to message",
			input: "data: {}\n\n",
			want:  []Event{{Type: "message", Data: json.RawMessage("{}")}},
		},
		{
			name:  "frame without data is ignored",
			input: "event: loading\n\n: comment\n\n",
			want:  nil,
		},
		{
			name:  "unterminated frame is dropped",
			input: "event: success\ndata: {}\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Event
			err := readEvents(strings.NewReader(tt.input), func(e Event) error {
				got = append(got, e)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamEvents(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		wantPath string
	}{
		{name: "all events", wantPath: "/api/v1/stream/events"},
		{name: "one token", address: "0xabc", wantPath: "/api/v1/stream/events/0xabc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(sseHandler(t, tt.wantPath,
				"event: balance\ndata: {\"token_address\":\"0xabc\",\"balance\":\"1\"}\n\n",
			))
			defer server.Close()

			var got []Event
			err := NewClient(server.URL, nil, nil).StreamEvents(context.Background(), tt.address, func(e Event) error {
				got = append(got, e)
				return nil
			})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "balance", got[0].Type)
		})
	}
}

func TestStreamEvents_NotConfigured(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	err := NewClient(server.URL, nil, nil).StreamEvents(context.Background(), "", func(Event) error { return nil })
	require.Error(t, err)
}
