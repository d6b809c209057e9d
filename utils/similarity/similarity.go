// Package similarity folds and compares media titles and library names.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics, so "Animés Kaï" becomes "animes kai".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Normalize folds s and keeps only letters and digits separated by single spaces.
// "&" is read as "and".
func Normalize(s string) string {
	s = Fold(strings.ReplaceAll(s, "&", " and "))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' || r == ':':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns a score between 0 (unrelated) and 1 (identical) for two titles,
// based on the Levenshtein distance of their normalized forms. A title that is a
// word-aligned suffix covering at least 60% of the other ("Disney's X" vs "X") scores
// at least 0.96.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if score := suffixScore(a, b); score > 0 {
		return score
	}

	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func suffixScore(a, b string) float64 {
	long, short := a, b
	if len(short) > len(long) {
		long, short = short, long
	}
	if !strings.HasSuffix(long, short) {
		return 0
	}
	cut := len(long) - len(short)
	if cut > 0 && long[cut-1] != ' ' {
		return 0
	}
	ratio := float64(len(short)) / float64(len(long))
	if ratio < 0.6 {
		return 0
	}
	return 0.9 + ratio*0.1
}

// levenshtein uses two rolling rows instead of the full matrix.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
