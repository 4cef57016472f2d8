package ethaddr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToChecksumAddress(t *testing.T) {
	// Reference vectors from EIP-55 plus USDT.
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
		"0xdAC17F958D2ee523a2206206994597C13D831ec7",
	}

	for _, want := range vectors {
		t.Run(want, func(t *testing.T) {
			for _, in := range []string{strings.ToLower(want), "0x" + strings.ToUpper(want[2:]), want[2:]} {
				got, err := ToChecksumAddress(in)
				require.NoError(t, err, in)
				assert.Equal(t, want, got, in)
			}
		})
	}
}

func TestToChecksumAddress_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"0x",
		"0x123",
		"0xdac17f958d2ee523a2206206994597c13d831ec7ff",
		"0xzac17f958d2ee523a2206206994597c13d831ec7",
	} {
		_, err := ToChecksumAddress(in)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}

func TestIsHexAddress(t *testing.T) {
	assert.True(t, IsHexAddress("0xdac17f958d2ee523a2206206994597c13d831ec7"))
	assert.True(t, IsHexAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"))
	assert.False(t, IsHexAddress("dac17f958d2ee523a2206206994597c13d831ec7"))
	assert.False(t, IsHexAddress("0x123"))
	assert.False(t, IsHexAddress("0xgac17f958d2ee523a2206206994597c13d831ec7"))
}

func TestTokenImageURL(t *testing.T) {
	assert.Equal(t,
		"https://raw.githubusercontent.com/trustwallet/assets/master/blockchains/ethereum/assets/0xdAC17F958D2ee523a2206206994597C13D831ec7/logo.png",
		TokenImageURL("0xdac17f958d2ee523a2206206994597c13d831ec7"),
	)
	assert.Equal(t, "", TokenImageURL("0x123"))
}
