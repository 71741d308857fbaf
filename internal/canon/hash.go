package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// leaves room for algorithm migration without colliding with old keys.
const (
	DomainNotification = "ripple/notification/v1"
	DomainTrace        = "ripple/trace/v1"
)

// HashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashObject canonically marshals obj and hashes it under the given domain.
func HashObject(domain string, obj map[string]any) (string, error) {
	canonical, err := Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("hash object: %w", err)
	}
	return HashWithDomain(domain, canonical), nil
}

// MustHashObject is like HashObject but panics on error. Use only when the
// inputs are known to contain no floats or nulls.
func MustHashObject(domain string, obj map[string]any) string {
	h, err := HashObject(domain, obj)
	if err != nil {
		panic(err)
	}
	return h
}
