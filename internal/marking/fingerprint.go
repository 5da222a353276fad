package marking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// fingerprintVersion is bumped whenever the canonical form changes so old
// cache entries stop matching.
const fingerprintVersion = "v1"

// cacheKeyPrefix namespaces marking entries in a shared key-value store.
const cacheKeyPrefix = "marking:"

// Fingerprint returns a deterministic SHA-256 digest over the fields that
// change the marking outcome. Leading and trailing whitespace is ignored.
func Fingerprint(r *Request) string {
	// encoding/json writes map keys in sorted order.
	canonical := map[string]any{
		"answer":     strings.TrimSpace(r.Answer),
		"examBoard":  strings.TrimSpace(r.ExamBoard),
		"markScheme": strings.TrimSpace(r.MarkScheme),
		"question":   strings.TrimSpace(r.Question),
		"subject":    strings.TrimSpace(r.Subject),
		"totalMarks": r.TotalMarks,
	}
	data, _ := json.Marshal(canonical)

	h := sha256.New()
	h.Write([]byte(fingerprintVersion))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey returns the store key for a fingerprint.
func CacheKey(fingerprint string) string {
	return cacheKeyPrefix + fingerprint
}
