// Package checksum derives content versions and stable file names.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Short returns the first 16 hex characters of Sum, enough to name files
// and to serve as an entity version tag.
func Short(data []byte) string {
	return Sum(data)[:16]
}
