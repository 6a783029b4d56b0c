package intent

import (
	"context"
	"strings"
	"unicode"
)

// KeywordProvider matches user text against each option's keywords and
// never fails. Keywords match whole words case-insensitively; multi-word
// keywords must appear as a contiguous phrase. The option with most keyword
// hits wins and ties go to the earlier option. No hits yields "".
type KeywordProvider struct{}

func (KeywordProvider) Name() string { return "keyword" }

func (KeywordProvider) Detect(_ context.Context, text string, options []Option) (string, error) {
	words := tokenize(text)
	best, bestScore := "", 0
	for _, o := range options {
		score := 0
		for _, kw := range o.Keywords {
			if containsPhrase(words, tokenize(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = o.Label, score
		}
	}
	return best, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, p := range phrase {
			if words[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}
