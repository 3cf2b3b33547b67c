// Package fingerprint computes the stable cache key for a search query.
// The producer and the worker both key the search cache with it, so the
// computation must stay byte-for-byte identical between them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Compute returns the hex-encoded SHA-256 of the query after Unicode NFC
// normalization and whitespace collapsing. Case is preserved: "Фитинг" and
// "фитинг" are distinct cache keys.
func Compute(query string) string {
	normalized := Normalize(query)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Normalize applies NFC and collapses every whitespace run to a single
// ASCII space, trimming the ends.
func Normalize(query string) string {
	nfc := norm.NFC.String(query)
	return strings.Join(strings.Fields(nfc), " ")
}
