package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := AddressFromSeed("seller")
	encoded := FormatAddress(raw)
	require.True(t, strings.HasPrefix(encoded, "nhb1"))

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, parsed)
}

func TestParseAddressHex(t *testing.T) {
	raw := AddressFromSeed("buyer")
	parsed, err := ParseAddress("0x" + hex.EncodeToString(raw[:]))
	require.NoError(t, err)
	require.Equal(t, raw, parsed)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}

func TestDerivedAddressesAreDistinct(t *testing.T) {
	module := ModuleAddress("escrow")
	nft := ContractAddress("nft", "faucet")
	token := ContractAddress("token", "faucet")
	require.NotEqual(t, module, nft)
	require.NotEqual(t, nft, token)
	require.False(t, IsZero(module))
	require.Equal(t, nft, ContractAddress(" NFT ", "faucet"))
}

func TestCommitmentMatchesSHA256OfText(t *testing.T) {
	got := Commitment("yafiabiyyu")
	require.Equal(t, sha256.Sum256([]byte("yafiabiyyu")), got)
	require.NotEqual(t, got, Commitment("other"))

	parsed, err := ParseCommitment("0x" + hex.EncodeToString(got[:]))
	require.NoError(t, err)
	require.Equal(t, got, parsed)

	_, err = ParseCommitment("0xabcd")
	require.Error(t, err)
}
