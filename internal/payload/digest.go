package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest domains. The version suffix leaves room for an algorithm change.
const (
	DomainInput  = "simworks/input/v1"
	DomainResult = "simworks/result/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data). The separator keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the domain-separated SHA-256 of v's canonical encoding.
func Digest(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// DigestBytes hashes data that is already canonical.
func DigestBytes(domain string, canonical []byte) string {
	return hashWithDomain(domain, canonical)
}
