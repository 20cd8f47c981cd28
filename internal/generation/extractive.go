package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/internal/query"
)

// DefaultExtractiveSentences is how many sentences an extractive answer holds.
const DefaultExtractiveSentences = 3

// Extractive answers by quoting the context sentences that share the most
// words with the question. It is deterministic and needs no model.
type Extractive struct {
	sentences int
}

// NewExtractive returns an extractive generator quoting up to n sentences.
func NewExtractive(n int) *Extractive {
	if n <= 0 {
		n = DefaultExtractiveSentences
	}
	return &Extractive{sentences: n}
}

type sentence struct {
	text    string
	context int
	order   int
	score   int
}

// Generate implements Generator. Each quoted sentence carries the citation of
// its passage. Sentences are emitted in passage order.
func (e *Extractive) Generate(_ context.Context, question string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return "", ErrNoContext
	}
	terms := significant(query.Words(question))

	var all []sentence
	for ci, c := range contexts {
		for _, s := range splitSentences(c) {
			all = append(all, sentence{
				text:    s,
				context: ci,
				order:   len(all),
				score:   query.CountMatchingTerms(terms, s),
			})
		}
	}
	if len(all) == 0 {
		return "", ErrEmptyResponse
	}

	picked := make([]sentence, len(all))
	copy(picked, all)
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].score > picked[j].score })
	picked = picked[:min(e.sentences, len(picked))]
	sort.Slice(picked, func(i, j int) bool { return picked[i].order < picked[j].order })

	parts := make([]string, len(picked))
	for i, s := range picked {
		parts[i] = fmt.Sprintf("%s [%d]", s.text, s.context+1)
	}
	return strings.Join(parts, " "), nil
}

// splitSentences splits on ., ! and ? followed by whitespace, and on newlines.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	flush := func() {
		if s := strings.Join(strings.Fields(b.String()), " "); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

func significant(words []string) []string {
	out := words[:0:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop && len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}
