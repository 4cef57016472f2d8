// Package ethaddr handles Ethereum address encoding.
package ethaddr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress is returned for input that is not 40 hex digits, with or without a 0x prefix.
var ErrInvalidAddress = errors.New("invalid ethereum address")

const logoURLFormat = "https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/%s/logo.png"

// ToChecksumAddress returns the EIP-55 mixed-case form of addr.
//
// The lowercase hex digits are hashed with Keccak-256 (the legacy,
// pre-standard variant Ethereum uses) and each letter is uppercased when the
// matching hash nibble is 8 or more.
func ToChecksumAddress(addr string) (string, error) {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if len(lower) != 40 {
		return "", fmt.Errorf("%w: %q has %d hex digits, want 40", ErrInvalidAddress, addr, len(lower))
	}
	if _, err := hex.DecodeString(lower); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out), nil
}

// IsHexAddress reports whether s is 0x followed by 40 hex digits.
func IsHexAddress(s string) bool {
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// TokenImageURL returns the TrustWallet logo URL for a token contract, or ""
// when addr cannot be checksummed.
func TokenImageURL(addr string) string {
	checksummed, err := ToChecksumAddress(addr)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(logoURLFormat, checksummed)
}
