package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCutPayload  = "diamondctl/cut/v1"
	DomainPlaceholder = "diamondctl/placeholder/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CutPayloadHash computes the content-addressed identity of a cut payload.
// The same cut records, initializer target and calldata always hash to the
// same value, so a resubmitted proposal maps to the same ledger step.
func CutPayloadHash(payload map[string]any) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("CutPayloadHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCutPayload, canonical), nil
}

// PlaceholderAddress derives a stable fake address for a facet that has not
// been deployed yet. Used by planning, where real addresses are unknown.
func PlaceholderAddress(facet string, version int) Address {
	sum := hashWithDomain(DomainPlaceholder, []byte(fmt.Sprintf("%s@%d", facet, version)))
	return Address("0x" + sum[len(sum)-40:])
}
