package repository

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "it": {},
	"i": {}, "we": {}, "you": {}, "my": {}, "our": {}, "with": {}, "at": {}, "by": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "what": {}, "why": {},
	"how": {}, "when": {}, "which": {}, "this": {}, "that": {}, "there": {}, "any": {},
}

// Tokenize lower-cases text and splits it into words without stop words
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// keywordScore returns the fraction of query tokens found in text. Tokens match when
// one is a prefix of the other so "failures" matches "failure" and "fail".
func keywordScore(queryTokens []string, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := Tokenize(text)

	matched := 0
	for _, q := range queryTokens {
		for _, t := range textTokens {
			if strings.HasPrefix(t, q) || (strings.HasPrefix(q, t) && len(t) >= 4) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

type candidate[T any] struct {
	record    T
	key       string
	text      string
	createdAt time.Time
	score     float64
}

// rankByKeyword scores candidates against query and returns at most limit of them,
// best score first, then newest, then by key.
func rankByKeyword[T any](query string, items []candidate[T], limit int) []T {
	tokens := Tokenize(query)

	scored := make([]candidate[T], 0, len(items))
	for _, it := range items {
		it.score = keywordScore(tokens, it.text)
		if it.score > 0 {
			scored = append(scored, it)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if !scored[i].createdAt.Equal(scored[j].createdAt) {
			return scored[i].createdAt.After(scored[j].createdAt)
		}
		return scored[i].key < scored[j].key
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	out := make([]T, len(scored))
	for i, s := range scored {
		out[i] = s.record
	}
	return out
}
