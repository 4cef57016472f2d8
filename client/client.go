// Package client is the HTTP client for the tokensync server.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/tokens"
)

// Event types sent on outcome streams.
const (
	EventLoading = "loading"
	EventSuccess = "success"
	EventError   = "error"
)

// Event is one server-sent event.
type Event struct {
	Type string
	Data json.RawMessage
}

// Payload is the body of an outcome event.
type Payload struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    *int            `json:"code,omitempty"`
}

// Payload decodes the event data as an outcome payload.
func (e Event) Payload() (Payload, error) {
	var p Payload
	if len(e.Data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("failed to decode %s event: %w", e.Type, err)
	}
	return p, nil
}

// StreamError is the error event that ended a stream.
type StreamError struct {
	Message string
	Code    *int
}

func (e *StreamError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("stream error (code %d): %s", *e.Code, e.Message)
	}
	return "stream error: " + e.Message
}

// CacheStatus describes what the server has cached.
type CacheStatus struct {
	TokenCount     int        `json:"token_count"`
	TokensCachedAt *time.Time `json:"tokens_cached_at,omitempty"`
}

// Client is the HTTP client for the tokensync service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new tokensync client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// StreamTopTokens calls fn for every event of the top token stream until the
// server closes it. An error returned by fn stops the stream and is returned.
func (c *Client) StreamTopTokens(ctx context.Context, force bool, fn func(Event) error) error {
	return c.stream(ctx, "/api/v1/tokens", force, fn)
}

// StreamBalance calls fn for every event of the balance stream of one token.
func (c *Client) StreamBalance(ctx context.Context, address string, force bool, fn func(Event) error) error {
	return c.stream(ctx, "/api/v1/tokens/"+url.PathEscape(address)+"/balance", force, fn)
}

// StreamEvents calls fn for every refresh event relayed by the server. An
// empty address follows every event, otherwise only that token's balance
// refreshes. It returns when ctx is done or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, address string, fn func(Event) error) error {
	path := "/api/v1/stream/events"
	if address != "" {
		path += "/" + url.PathEscape(address)
	}
	err := c.stream(ctx, path, false, fn)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// TopTokens returns the token list from the terminal event of the stream.
func (c *Client) TopTokens(ctx context.Context, force bool) ([]tokens.Token, error) {
	var list []tokens.Token
	err := c.StreamTopTokens(ctx, force, func(e Event) error {
		return decodeTerminal(e, &list)
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Balance returns the raw balance from the last success event of the stream.
// When the server suppresses a failed refresh the cached value is returned.
func (c *Client) Balance(ctx context.Context, address string, force bool) (string, error) {
	var raw string
	err := c.StreamBalance(ctx, address, force, func(e Event) error {
		return decodeTerminal(e, &raw)
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

// ClearCache purges every cached token and balance on the server.
func (c *Client) ClearCache(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/cache", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("cache cleared")
	return nil
}

// CacheStatus reports what the server has cached.
func (c *Client) CacheStatus(ctx context.Context) (*CacheStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/cache", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status CacheStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

func (c *Client) stream(ctx context.Context, path string, force bool, fn func(Event) error) error {
	endpoint := c.baseURL + path
	if force {
		endpoint += "?force=" + strconv.FormatBool(force)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("stream opened", "path", path, "force", force)
	return readEvents(resp.Body, fn)
}

// readEvents parses an event stream. Comment lines are skipped and a frame
// without data is ignored.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventType string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if len(data) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				e := Event{Type: eventType, Data: json.RawMessage(strings.Join(data, "\n"))}
				if err := fn(e); err != nil {
					return err
				}
			}
			eventType = ""
			data = data[:0]
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return nil
}

// decodeTerminal decodes success data into dst and turns an error event into
// a *StreamError. Loading events are ignored.
func decodeTerminal(e Event, dst any) error {
	switch e.Type {
	case EventSuccess:
		p, err := e.Payload()
		if err != nil {
			return err
		}
		if err := json.Unmarshal(p.Data, dst); err != nil {
			return fmt.Errorf("failed to decode success data: %w", err)
		}
	case EventError:
		p, err := e.Payload()
		if err != nil {
			return err
		}
		return &StreamError{Message: p.Message, Code: p.Code}
	}
	return nil
}

// IsStreamError reports whether err ended a stream with an error event.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
