package match

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Similarity returns a normalised edit-distance similarity in [0, 1] between a
// and b. The comparison is case-insensitive and measured in runes, so Thai
// words are compared character by character.
//
// Similarity is symmetric. Two empty strings are identical (1.0); an empty
// string never resembles a non-empty one (0.0).
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0.0
	}
	longest := max(la, lb)
	d := matchr.Levenshtein(a, b)
	return 1.0 - float64(d)/float64(longest)
}

// partialScore returns the length ratio of word and keyword when one contains
// the other, or 0 when neither does.
func partialScore(word, keyword string) float64 {
	if !strings.Contains(word, keyword) && !strings.Contains(keyword, word) {
		return 0
	}
	lw, lk := utf8.RuneCountInString(word), utf8.RuneCountInString(keyword)
	if lw == 0 || lk == 0 {
		return 0
	}
	return float64(min(lw, lk)) / float64(max(lw, lk))
}
