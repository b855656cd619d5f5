package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeText lowercases the input, collapses whitespace runs to a single
// space and trims the ends.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentKey returns the SHA-256 hex digest of the normalized text.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
