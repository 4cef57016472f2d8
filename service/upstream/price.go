package upstream

import (
	"bytes"
	"encoding/json"
)

// PriceInfo is the price object Ethplorer attaches to a token. Any field may be null.
type PriceInfo struct {
	Rate         *float64 `json:"rate"`
	Currency     *string  `json:"currency"`
	Diff         *float64 `json:"diff"`
	MarketCapUSD *float64 `json:"marketCapUsd"`
	Volume24h    *float64 `json:"volume24h"`
}

// Price is the polymorphic "price" field. On the wire it is either a
// PriceInfo object or the literal false when no price is known. Info is nil
// when the price is absent.
type Price struct {
	Info *PriceInfo
}

// Present reports whether a price object was supplied.
func (p Price) Present() bool {
	return p.Info != nil
}

// UnmarshalJSON decodes an object into Info. false, true, null and any other
// non-object value decode to an absent price.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		p.Info = nil
		return nil
	}
	var info PriceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return err
	}
	p.Info = &info
	return nil
}

// MarshalJSON encodes an absent price as false.
func (p Price) MarshalJSON() ([]byte, error) {
	if p.Info == nil {
		return []byte("false"), nil
	}
	return json.Marshal(p.Info)
}
