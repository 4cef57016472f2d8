package orchestrator

import (
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/tokens"
)

// ListStatus is the lifecycle of the token list.
type ListStatus int

const (
	NotLoaded ListStatus = iota
	Loading
	Loaded
	LoadedWithError
)

func (s ListStatus) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadedWithError:
		return "loaded_with_error"
	default:
		return "not_loaded"
	}
}

// ErrorDisplay says how a token list error should be surfaced.
type ErrorDisplay int

const (
	// ErrorNone means there is nothing to show.
	ErrorNone ErrorDisplay = iota
	// ErrorFullScreen replaces the list because nothing has loaded yet.
	ErrorFullScreen
	// ErrorBanner is dismissible and layered over the last good list.
	ErrorBanner
)

func (d ErrorDisplay) String() string {
	switch d {
	case ErrorFullScreen:
		return "full_screen"
	case ErrorBanner:
		return "banner"
	default:
		return "none"
	}
}

// TokenView is one row of the token list.
type TokenView struct {
	Address      string
	Name         string
	Symbol       string
	Decimals     int
	Image        string
	Price        *tokens.Price
	HoldersCount *int64
	TotalSupply  *string

	// Balance holds the formatted balance once fetched.
	Balance     outcome.Outcome[string]
	LastUpdated time.Time
}

func newTokenView(t tokens.Token, now time.Time) TokenView {
	return TokenView{
		Address:      t.Address,
		Name:         t.Name,
		Symbol:       t.Symbol,
		Decimals:     t.Decimals,
		Image:        t.Image,
		Price:        t.Price,
		HoldersCount: t.HoldersCount,
		TotalSupply:  t.TotalSupply,
		Balance:      outcome.Loading[string](),
		LastUpdated:  now,
	}
}

// Matches reports whether query is a case-insensitive substring of the
// token's name or symbol.
func (v TokenView) Matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(v.Name), q) ||
		strings.Contains(strings.ToLower(v.Symbol), q)
}

// State is a snapshot of everything the orchestrator owns.
type State struct {
	Status ListStatus
	Tokens []TokenView
	// Error is the last token list failure, empty when there is none.
	Error string
	// HasLoaded is set once a token list has been received.
	HasLoaded bool
	// SearchText is the latest input; SettledQuery is the last value that
	// survived the debounce.
	SearchText   string
	SettledQuery string
}

// ErrorDisplay returns how the current list error should be shown.
func (s State) ErrorDisplay() ErrorDisplay {
	switch {
	case s.Error == "":
		return ErrorNone
	case s.HasLoaded:
		return ErrorBanner
	default:
		return ErrorFullScreen
	}
}

// DisplayedTokens returns the tokens matching the search text. A blank
// search displays nothing.
func (s State) DisplayedTokens() []TokenView {
	if strings.TrimSpace(s.SearchText) == "" {
		return nil
	}
	var out []TokenView
	for _, t := range s.Tokens {
		if t.Matches(s.SearchText) {
			out = append(out, t)
		}
	}
	return out
}

// Token returns the row for address.
func (s State) Token(address string) (TokenView, bool) {
	for _, t := range s.Tokens {
		if t.Address == address {
			return t, true
		}
	}
	return TokenView{}, false
}

func (s State) clone() State {
	s.Tokens = append([]TokenView(nil), s.Tokens...)
	return s
}
