package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/brojonat/tokensync/service/ratelimit"
)

const (
	// DefaultEtherscanURL is the public Etherscan API.
	DefaultEtherscanURL = "https://api.etherscan.io"

	// DefaultEtherscanRateLimit is the free-tier quota in calls per second.
	DefaultEtherscanRateLimit = 4

	mainnetChainID = "1"
)

type tokenBalanceResponse struct {
	// Status is "1" on success. Etherscan has sent it both as a string and
	// as a number.
	Status  json.Number `json:"status"`
	Message string      `json:"message"`
	Result  string      `json:"result"`
}

// Etherscan is a client for the Etherscan v2 account API. Every request
// passes through a rate governor.
type Etherscan struct {
	base
	apiKey   string
	governor *ratelimit.Governor
}

// NewEtherscan creates an Etherscan client whose transport waits on governor.
// An empty baseURL uses DefaultEtherscanURL.
func NewEtherscan(baseURL, apiKey string, governor *ratelimit.Governor, opts ...Option) *Etherscan {
	if baseURL == "" {
		baseURL = DefaultEtherscanURL
	}
	b := newBase("etherscan", baseURL, opts)

	// Copy so a caller-supplied client is not mutated.
	hc := *b.httpClient
	hc.Transport = governor.Transport(hc.Transport)
	b.httpClient = &hc

	return &Etherscan{
		base:     b,
		apiKey:   apiKey,
		governor: governor,
	}
}

// GetTokenBalance returns the raw balance of contract held by wallet, as a
// base-10 integer string in the token's smallest unit.
func (c *Etherscan) GetTokenBalance(ctx context.Context, contract, wallet string) (string, error) {
	query := url.Values{}
	query.Set("chainid", mainnetChainID)
	query.Set("module", "account")
	query.Set("action", "tokenbalance")
	query.Set("tag", "latest")
	query.Set("contractaddress", contract)
	query.Set("address", wallet)
	query.Set("apikey", c.apiKey)

	var resp tokenBalanceResponse
	if err := c.getJSON(ctx, "/v2/api", query, &resp); err != nil {
		return "", fmt.Errorf("failed to get token balance: %w", err)
	}

	if resp.Status.String() != "1" {
		return "", &APIError{Status: resp.Status.String(), Message: resp.Message, Result: resp.Result}
	}

	result := strings.TrimSpace(resp.Result)
	if !isDecimalInteger(result) {
		return "", &DecodeError{
			Upstream: c.name,
			Err:      fmt.Errorf("balance %q is not a base-10 integer", resp.Result),
		}
	}

	c.logger.DebugContext(ctx, "fetched token balance", "contract", contract)
	return result, nil
}

// Governor returns the rate governor guarding this client.
func (c *Etherscan) Governor() *ratelimit.Governor {
	return c.governor
}

func isDecimalInteger(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
