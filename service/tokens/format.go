package tokens

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest decimals value an ERC-20 token can declare.
const MaxDecimals = 255

var (
	thousand = decimal.NewFromInt(1000)
	one      = decimal.NewFromInt(1)
)

// FormatBalance renders a raw smallest-unit balance for display.
//
// The value is scaled by 10^decimals and truncated to 2 fractional digits
// from 1000 up, 4 from 1 up, 6 below 1, and 0 for zero. Trailing zeros are
// dropped and the integer part gets comma thousands separators. Input that
// is not a base-10 integer, or decimals outside 0..MaxDecimals, is returned
// unchanged.
func FormatBalance(raw string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || decimals < 0 || decimals > MaxDecimals {
		return raw
	}

	amount := decimal.NewFromBigInt(n, int32(-decimals))

	var places int32
	switch {
	case amount.GreaterThanOrEqual(thousand):
		places = 2
	case amount.GreaterThanOrEqual(one):
		places = 4
	case amount.IsPositive():
		places = 6
	}

	return groupThousands(amount.RoundDown(places).String())
}

// FormatUSD renders a dollar amount with a K, M or B suffix.
func FormatUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.2fK", v/1e3)
	default:
		return fmt.Sprintf("$%.2f", v)
	}
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
