package investigation

import (
	"strings"

	"github.com/m-mizutani/pika/pkg/repository"
)

// genericNouns are dropped from the last paraphrase so "flight booking failures" also
// finds a summary about "flight booking errors"
var genericNouns = map[string]struct{}{
	"issue": {}, "issues": {}, "problem": {}, "problems": {}, "failure": {}, "failures": {},
	"error": {}, "errors": {}, "incident": {}, "incidents": {}, "outage": {}, "outages": {},
	"investigated": {}, "investigation": {}, "investigations": {}, "times": {}, "many": {},
}

// Paraphrases returns query variants used to improve recall of memory search: the
// original text, its content words without historical markers, and those content words
// without generic nouns. Duplicates and empty variants are dropped.
func Paraphrases(text string) []string {
	original := strings.TrimSpace(text)

	stripped := original
	for _, p := range historicalMarkers {
		stripped = p.ReplaceAllString(stripped, " ")
	}
	content := repository.Tokenize(stripped)

	var specific []string
	for _, w := range content {
		if _, ok := genericNouns[w]; !ok {
			specific = append(specific, w)
		}
	}

	candidates := []string{original, strings.Join(content, " "), strings.Join(specific, " ")}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(c)
		if c == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
