package crypto

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	NHBPrefix AddressPrefix = "nhb"
)

// Address represents a 20-byte account or contract address with a specific
// prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Array returns the address as a fixed-size array.
func (a Address) Array() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes, got %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseAddress accepts either a bech32 address or a 0x-prefixed hex address and
// returns the raw bytes.
func ParseAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return [20]byte{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return common.HexToAddress(trimmed), nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// FormatAddress renders raw address bytes using the default prefix.
func FormatAddress(addr [20]byte) string {
	return NewAddress(NHBPrefix, addr[:]).String()
}

// IsZero reports whether the address is the all-zero address.
func IsZero(addr [20]byte) bool {
	return addr == [20]byte{}
}

// ModuleAddress derives the deterministic account controlled by a native
// module, e.g. the escrow engine's custody account.
func ModuleAddress(module string) [20]byte {
	return derive("module:", module)
}

// ContractAddress derives the deterministic address of a named contract of the
// given kind ("nft", "token").
func ContractAddress(kind, name string) [20]byte {
	return derive("contract:"+strings.ToLower(strings.TrimSpace(kind))+":", name)
}

func derive(prefix, name string) [20]byte {
	hash := crypto.Keccak256([]byte(prefix), []byte(strings.TrimSpace(name)))
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}

// Commitment hashes a configuration string into the opaque commitment bound to
// the platform at deployment. It matches sha256 over the packed string bytes.
func Commitment(text string) [32]byte {
	return sha256.Sum256([]byte(text))
}

// ParseCommitment decodes a 0x-prefixed 32-byte hex commitment.
func ParseCommitment(raw string) ([32]byte, error) {
	trimmed := strings.TrimSpace(raw)
	decoded := common.FromHex(trimmed)
	if len(decoded) != 32 {
		return [32]byte{}, fmt.Errorf("commitment must be 32 bytes, got %d", len(decoded))
	}
	var out [32]byte
	copy(out[:], decoded)
	return out, nil
}

// AddressFromSeed derives a throwaway address from a label. Used by tooling and
// tests that need stable, distinct identities.
func AddressFromSeed(seed string) [20]byte {
	hash := crypto.Keccak256(bytes.TrimSpace([]byte(seed)))
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}
