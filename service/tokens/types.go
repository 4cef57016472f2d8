package tokens

import (
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/ethaddr"
	"github.com/brojonat/tokensync/service/upstream"
)

// DefaultCurrency is used when a price object omits its currency.
const DefaultCurrency = "USD"

// Token is an ERC-20 token from the top-token list. Tokens are immutable
// values and are replaced wholesale on refresh.
type Token struct {
	Address      string  `json:"address"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Decimals     int     `json:"decimals"`
	Image        string  `json:"image"`
	Price        *Price  `json:"price,omitempty"`
	HoldersCount *int64  `json:"holders_count,omitempty"`
	TotalSupply  *string `json:"total_supply,omitempty"`
}

// Price is a point-in-time market price. A token with no known price has a nil *Price.
type Price struct {
	Rate         float64  `json:"rate"`
	Currency     string   `json:"currency"`
	Diff         *float64 `json:"diff,omitempty"`
	MarketCapUSD *float64 `json:"market_cap_usd,omitempty"`
	Volume24h    *float64 `json:"volume_24h,omitempty"`
}

// Balance is the cached raw balance of one token held by the configured wallet.
type Balance struct {
	TokenAddress string    `json:"token_address"`
	Raw          string    `json:"raw"`
	CachedAt     time.Time `json:"cached_at"`
}

// FromRecord converts an upstream record into a Token, defaulting anything
// missing or malformed instead of failing. The image is always derived from
// the checksummed address.
func FromRecord(rec upstream.TokenRecord) Token {
	t := Token{
		Address:      strings.ToLower(rec.Address),
		Name:         deref(rec.Name),
		Symbol:       deref(rec.Symbol),
		Image:        ethaddr.TokenImageURL(rec.Address),
		HoldersCount: rec.HoldersCount,
		TotalSupply:  rec.TotalSupply,
	}

	if d, err := strconv.Atoi(strings.TrimSpace(string(rec.Decimals))); err == nil && d >= 0 && d <= MaxDecimals {
		t.Decimals = d
	}

	if info := rec.Price.Info; info != nil {
		p := &Price{
			Currency:     DefaultCurrency,
			Diff:         info.Diff,
			MarketCapUSD: info.MarketCapUSD,
			Volume24h:    info.Volume24h,
		}
		if info.Rate != nil {
			p.Rate = *info.Rate
		}
		if info.Currency != nil {
			p.Currency = *info.Currency
		}
		t.Price = p
	}

	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
