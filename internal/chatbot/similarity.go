package chatbot

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// containedScore is given when a whole keyword phrase appears verbatim
	// inside a longer message.
	containedScore = 0.95
	// partialPhraseFactor scales the score of a message that only covers
	// part of a longer keyword phrase.
	partialPhraseFactor = 0.95
	minContentTokenLen  = 3
	// minLengthRatio is the shortest/longest rune ratio below which two
	// tokens only share a prefix ("hola" and "holanda"). Their score is
	// capped at that ratio.
	minLengthRatio = 0.7
)

// Spanish function words that carry no intent on their own. Tokens shorter
// than minContentTokenLen are dropped as well.
var stopWords = map[string]bool{
	"como": true, "con": true, "cual": true, "cuando": true, "del": true,
	"donde": true, "esta": true, "este": true, "hay": true, "las": true,
	"los": true, "mas": true, "mis": true, "nos": true, "para": true,
	"pero": true, "por": true, "que": true, "quien": true, "sin": true,
	"sobre": true, "son": true, "sus": true, "tengo": true, "una": true,
	"uno": true, "unos": true, "unas": true,
}

// query is a normalized message prepared once per Respond call.
type query struct {
	text   string
	tokens []string
}

func newQuery(normalized string) query {
	fields := strings.Fields(normalized)
	return query{
		text:   strings.Join(fields, " "),
		tokens: contentTokens(fields),
	}
}

func contentTokens(fields []string) []string {
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minContentTokenLen || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	if len(tokens) == 0 {
		return fields
	}
	return tokens
}

// similarity scores how well q matches a normalized phrase, in [0, 1].
func similarity(q query, phrase string) float64 {
	fields := strings.Fields(phrase)
	if len(fields) == 0 || q.text == "" {
		return 0
	}
	phrase = strings.Join(fields, " ")
	if q.text == phrase {
		return 1
	}
	if containsPhrase(q.text, phrase) {
		return containedScore
	}

	phraseTokens := contentTokens(fields)
	if len(q.tokens) == 0 || len(phraseTokens) == 0 {
		return matchr.JaroWinkler(q.text, phrase, false)
	}
	phraseCoverage := coverage(phraseTokens, q.tokens)
	queryCoverage := coverage(q.tokens, phraseTokens) * partialPhraseFactor
	return max(phraseCoverage, queryCoverage)
}

// coverage is the mean, over want, of the best token similarity found in have.
func coverage(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	total := 0.0
	for _, w := range want {
		best := 0.0
		for _, h := range have {
			if s := tokenSimilarity(w, h); s > best {
				best = s
				if best == 1 {
					break
				}
			}
		}
		total += best
	}
	return total / float64(len(want))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	score := matchr.JaroWinkler(a, b, false)
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if ratio := float64(min(la, lb)) / float64(max(la, lb)); ratio < minLengthRatio {
		return min(score, ratio)
	}
	return score
}

func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
