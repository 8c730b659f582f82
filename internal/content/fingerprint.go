// Package content provides the course-content boundary for the generation
// pipeline: loading source material, splitting it into paragraph units, and
// computing the normalized fingerprints used as cache keys.
//
// Fingerprinting rules: inputs are Unicode case-folded, whitespace is
// collapsed to single spaces, and the normalized parts are joined with a
// separator before hashing with SHA-256. Two inputs that differ only in
// case or spacing therefore address the same cache entry.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize lowercases (full Unicode case folding) and collapses whitespace.
func Normalize(s string) string {
	s = cases.Fold().String(s)
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// Fingerprint returns the stable hex SHA-256 over the normalized parts.
// Callers pass every input that influences the cached result (topic text,
// question type, difficulty, taxonomy level, or document content plus scope
// id, depending on the cache type).
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f}) // unit separator keeps parts unambiguous
		}
		h.Write([]byte(Normalize(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
