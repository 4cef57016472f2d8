package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/brojonat/tokensync/service/orchestrator"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/itchyny/gojq"
)

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatPrice(p *tokens.Price) string {
	if p == nil {
		return "-"
	}
	if p.Currency != tokens.DefaultCurrency {
		return fmt.Sprintf("%.4f %s", p.Rate, p.Currency)
	}
	return fmt.Sprintf("$%.4f", p.Rate)
}

func formatMarketCap(p *tokens.Price) string {
	if p == nil || p.MarketCapUSD == nil {
		return "-"
	}
	return tokens.FormatUSD(*p.MarketCapUSD)
}

func printTokens(w io.Writer, list []tokens.Token) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSYMBOL\tNAME\tPRICE\tMARKET CAP\tADDRESS")
	for i, t := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			t.Symbol,
			t.Name,
			formatPrice(t.Price),
			formatMarketCap(t.Price),
			t.Address,
		)
	}
	tw.Flush()
}

func balanceText(b outcome.Outcome[string]) string {
	switch {
	case b.IsSuccess():
		v, _ := b.Get()
		return v
	case b.IsError():
		return "error: " + b.Err().Message
	default:
		return "loading"
	}
}

func printViews(w io.Writer, views []orchestrator.TokenView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tPRICE\tBALANCE\tADDRESS")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			v.Symbol,
			v.Name,
			formatPrice(v.Price),
			balanceText(v.Balance),
			v.Address,
		)
	}
	tw.Flush()
}

// viewJSON is the JSON shape of a search result row.
type viewJSON struct {
	tokens.Token
	Balance      string `json:"balance,omitempty"`
	BalanceError string `json:"balance_error,omitempty"`
}

func toViewJSON(views []orchestrator.TokenView) []viewJSON {
	out := make([]viewJSON, len(views))
	for i, v := range views {
		out[i] = viewJSON{
			Token: tokens.Token{
				Address:      v.Address,
				Name:         v.Name,
				Symbol:       v.Symbol,
				Decimals:     v.Decimals,
				Image:        v.Image,
				Price:        v.Price,
				HoldersCount: v.HoldersCount,
				TotalSupply:  v.TotalSupply,
			},
		}
		v.Balance.
			OnSuccess(func(s string) { out[i].Balance = s }).
			OnError(func(info *outcome.ErrorInfo) { out[i].BalanceError = info.Message })
	}
	return out
}

func compileFilters(exprs []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(exprs))
	for i, filter := range exprs {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// filterTokens keeps the tokens for which every filter yields a truthy
// first result. A filter error drops the token.
func filterTokens(list []tokens.Token, codes []*gojq.Code) ([]tokens.Token, error) {
	if len(codes) == 0 {
		return list, nil
	}

	var out []tokens.Token
	for _, t := range list {
		// gojq only understands plain maps, slices and scalars
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal token %s: %w", t.Address, err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token %s: %w", t.Address, err)
		}

		if matchesAll(codes, doc) {
			out = append(out, t)
		}
	}
	return out, nil
}

func matchesAll(codes []*gojq.Code, doc interface{}) bool {
	for _, code := range codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
