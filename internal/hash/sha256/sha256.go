// Package sha256 derives stable fingerprints for secrets that must not be logged or stored raw.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

const shortLen = 12

// Fingerprint returns the hex SHA-256 digest of s.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Short returns a truncated fingerprint suitable for log fields.
func Short(s string) string {
	if s == "" {
		return ""
	}
	return Fingerprint(s)[:shortLen]
}
