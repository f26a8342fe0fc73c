package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Checksum returns the hex-encoded SHA-256 digest of the payload.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ChecksumEqual compares two hex checksums in constant time.
func ChecksumEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Normalize applies NFKD normalization, so keys that render identically
// compare identically.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}
