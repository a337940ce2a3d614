// Package similarity implements trigram similarity compatible with the Postgres
// pg_trgm extension, plus a trigram posting index for candidate lookup.
package similarity

import (
	"strings"
	"unicode"
)

// Trigrams returns the set of trigrams of text. Each lower-cased alphanumeric
// word is padded with two leading blanks and one trailing blank before it is
// split, matching show_trgm.
func Trigrams(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// Similarity returns the share of trigrams two strings have in common, in [0, 1].
// Strings without any word characters have similarity 0.
func Similarity(a, b string) float64 {
	return setSimilarity(Trigrams(a), Trigrams(b))
}

func setSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	common := 0
	for g := range a {
		if _, ok := b[g]; ok {
			common++
		}
	}
	return ratio(common, len(a), len(b))
}

func ratio(common, lenA, lenB int) float64 {
	union := lenA + lenB - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}
