package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

const (
	// DefaultEthplorerURL is the public Ethplorer API.
	DefaultEthplorerURL = "https://api.ethplorer.io"

	// DefaultTopTokensLimit is how many tokens GetTopTokens asks for by default.
	DefaultTopTokensLimit = 50
)

// TokenRecord is one entry of the Ethplorer top-token list. Only Address is
// guaranteed.
type TokenRecord struct {
	Address      string  `json:"address"`
	Name         *string `json:"name"`
	Symbol       *string `json:"symbol"`
	Decimals     Loose   `json:"decimals"`
	Image        *string `json:"image"`
	Price        Price   `json:"price"`
	HoldersCount *int64  `json:"holdersCount"`
	TotalSupply  *string `json:"totalSupply"`
}

type topTokensResponse struct {
	Tokens []TokenRecord `json:"tokens"`
}

// Ethplorer is a client for the Ethplorer token API.
type Ethplorer struct {
	base
	apiKey string
}

// NewEthplorer creates an Ethplorer client. An empty baseURL uses DefaultEthplorerURL.
func NewEthplorer(baseURL, apiKey string, opts ...Option) *Ethplorer {
	if baseURL == "" {
		baseURL = DefaultEthplorerURL
	}
	return &Ethplorer{
		base:   newBase("ethplorer", baseURL, opts),
		apiKey: apiKey,
	}
}

// GetTopTokens returns the top tokens in upstream order.
func (c *Ethplorer) GetTopTokens(ctx context.Context, limit int) ([]TokenRecord, error) {
	if limit <= 0 {
		limit = DefaultTopTokensLimit
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("apiKey", c.apiKey)

	var resp topTokensResponse
	if err := c.getJSON(ctx, "/getTopTokens", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to get top tokens: %w", err)
	}

	for i, rec := range resp.Tokens {
		if rec.Address == "" {
			return nil, &DecodeError{
				Upstream: c.name,
				Err:      fmt.Errorf("token at index %d has no address", i),
			}
		}
	}

	c.logger.DebugContext(ctx, "fetched top tokens", "count", len(resp.Tokens), "limit", limit)
	return resp.Tokens, nil
}

// Loose is a scalar that upstream sends as a string or a bare number.
// Any other JSON value decodes to "".
type Loose string

func (l *Loose) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		*l = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Loose(s)
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		*l = Loose(data)
	default:
		*l = ""
	}
	return nil
}
