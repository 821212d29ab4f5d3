// Package match implements the text normalization and fuzzy matching
// used to verify noisy vision-model output against expected names.
package match

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the similarity ratio at or above which two
// normalized strings are considered the same text.
const DefaultThreshold = 0.8

var punctuation = strings.NewReplacer(
	".", "", ",", "", ";", "", ":", "",
	"!", "", "?", "", "\"", "", "'", "",
	"(", "", ")", "",
)

// Vision models transcribe accented titles inconsistently, so fold
// the common Latin diacritics before comparing.
var diacritics = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a", "á", "a",
	"ç", "c",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i", "í", "i",
	"ô", "o", "ö", "o", "ó", "o",
	"ù", "u", "û", "u", "ü", "u", "ú", "u",
	"ñ", "n",
)

// Normalize lowercases, strips punctuation and diacritics, and
// collapses whitespace. Both the matcher and the score reporter use
// the same normalization so their views of equality agree.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = diacritics.Replace(s)
	s = punctuation.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Match reports whether a and b are the same text up to noise.
// It tries exact equality after normalization, then substring
// containment, then an edit-distance ratio against the threshold.
// The result does not depend on operand order.
func Match(a, b string, threshold float64) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	// An empty string is a substring of everything; without this
	// guard the containment rule would match "" against any input.
	if na == "" || nb == "" {
		return false
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return Ratio(na, nb) >= threshold
}

// Ratio returns a symmetric character-level similarity in [0,1]
// based on the Levenshtein distance over the longer input.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
