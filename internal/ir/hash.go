package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain strings for content-addressed identity. The version suffix
// allows a future digest or encoding migration without colliding with
// identities minted under the current scheme.
const (
	DomainEvent    = "mandate/event/v1"
	DomainConflict = "mandate/conflict/v1"
	DomainState    = "mandate/state/v1"
	DomainEntry    = "mandate/entry/v1"
)

// Identity prefixes. An identity is prefix + "-" + 64 hex characters.
const (
	PrefixEvent     = "evt"
	PrefixConflict  = "cfl"
	PrefixState     = "sta"
	PrefixAuthority = "aut" // not content-addressed; prefix only
)

// HashWithDomain computes SHA256(domain || 0x00 || data) as a hex
// string. The null separator keeps the domain/data boundary
// unambiguous.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Identity computes a content-addressed identity for a canonical value:
// prefix-hex(SHA256(domain || 0x00 || canonical(v))).
func Identity(prefix, domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}
	return prefix + "-" + HashWithDomain(domain, canonical), nil
}

// ChainHash advances a hash chain: SHA256(prev || canonical). The
// genesis link uses an empty prev.
func ChainHash(prev string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
