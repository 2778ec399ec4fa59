package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/sha3"
)

// SelectorSize is the length in bytes of a function selector.
const SelectorSize = 4

// Selector is the 4-byte dispatch identifier of one callable function.
//
// Text form is "0x" followed by 8 lowercase hex characters. JSON and YAML
// encode selectors through MarshalText/UnmarshalText.
type Selector [SelectorSize]byte

// ParseSelector parses "0x1234abcd" (the 0x prefix is optional).
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(raw) != SelectorSize*2 {
		return sel, fmt.Errorf("invalid selector %q: want %d hex characters", s, SelectorSize*2)
	}
	if _, err := hex.Decode(sel[:], []byte(raw)); err != nil {
		return sel, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	return sel, nil
}

// MustParseSelector is like ParseSelector but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseSelector(s string) Selector {
	sel, err := ParseSelector(s)
	if err != nil {
		panic(err)
	}
	return sel
}

// SelectorFromSignature computes the selector of a Solidity function
// signature such as "transfer(address,uint256)": the first 4 bytes of its
// Keccak-256 hash.
func SelectorFromSignature(signature string) Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var sel Selector
	copy(sel[:], h.Sum(nil))
	return sel
}

// String returns the 0x-prefixed hex form.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Compare orders selectors by their bytes.
func (s Selector) Compare(other Selector) int {
	return bytes.Compare(s[:], other[:])
}

// SortSelectors sorts selectors in place by byte order and returns them.
func SortSelectors(sels []Selector) []Selector {
	slices.SortFunc(sels, Selector.Compare)
	return sels
}

// Address is a 0x-prefixed 20-byte hex account or contract address.
//
// Addresses are kept in lowercase so that == is the only comparison needed.
// Values entering from outside (decoded text, storage, execution backends)
// go through NormalizeAddress; checksummed input compares equal to its
// lowercase form.
type Address string

// ZeroAddress is the null target used by Remove cuts and absent initializers.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// NormalizeAddress returns s in the canonical lowercase form.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// Normalize returns a in the canonical lowercase form.
func (a Address) Normalize() Address {
	return NormalizeAddress(string(a))
}

// UnmarshalText implements encoding.TextUnmarshaler. Decoded addresses are
// normalized.
func (a *Address) UnmarshalText(text []byte) error {
	*a = NormalizeAddress(string(text))
	return nil
}

// IsZero reports whether the address is empty or the zero address.
func (a Address) IsZero() bool {
	return a == "" || a.Normalize() == ZeroAddress
}

// AddressFromBytes formats the last 20 bytes of b as an Address.
func AddressFromBytes(b []byte) Address {
	if len(b) > 20 {
		b = b[len(b)-20:]
	}
	padded := make([]byte, 20)
	copy(padded[20-len(b):], b)
	return Address("0x" + hex.EncodeToString(padded))
}
