// Package fingerprint computes content digests used for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of content.
func Sum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Key returns a short stable identifier for s, small enough for Telegram callback data.
func Key(s string) string {
	return Sum([]byte(s))[:16]
}
