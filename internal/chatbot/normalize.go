package chatbot

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonWordOrSpace = regexp.MustCompile(`[^\w\s]`)

// Every Unicode space (NBSP, thin space, ideographic space, \v) becomes an
// ASCII space before punctuation is stripped, so pasted text keeps its word
// boundaries.
var unifySpaces = runes.Map(func(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return r
})

// Normalize turns raw user or admin text into a comparable key: accents and
// punctuation are removed, case is folded and the ends are trimmed. The
// result only contains ASCII word characters and whitespace, so applying
// Normalize twice is the same as applying it once.
func Normalize(raw string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), unifySpaces)
	folded, _, err := transform.String(stripMarks, raw)
	if err != nil {
		// Only reachable on invalid transformer state; fall back to the input.
		folded = raw
	}
	folded = strings.ToLower(folded)
	folded = nonWordOrSpace.ReplaceAllString(folded, "")
	return strings.TrimSpace(folded)
}
