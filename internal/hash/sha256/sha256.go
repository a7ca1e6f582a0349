// Package sha256 fingerprints page content with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hex returns the hex-encoded SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Text fingerprints human-readable text. Runs of whitespace collapse to a
// single space first, so markup reflowing does not change the digest.
// Empty or blank text yields "".
func Text(s string) string {
	normalized := strings.Join(strings.Fields(s), " ")
	if normalized == "" {
		return ""
	}
	return Hex([]byte(normalized))
}
