package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix starts every per-principal index name.
const KeyPrefix = "content_"

// NormalizeType lower-cases a content type name and maps every rune outside
// [a-z0-9] to '_', so "Wiki Page" and "wiki_page" share one index.
func NormalizeType(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}

// IndexKey derives the index name for a principal's content of one type.
// The result depends only on its inputs, so every process computes the same
// on-disk name.
func IndexKey(principal, typeName string) string {
	sum := sha256.Sum256([]byte(principal + "\x00" + NormalizeType(typeName)))
	return KeyPrefix + hex.EncodeToString(sum[:16])
}
