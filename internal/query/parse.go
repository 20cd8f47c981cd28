// Package query classifies search queries and expands short ones with synonyms
// before retrieval.
package query

import (
	"regexp"
	"strings"
	"unicode"
)

var phraseRegex = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

// Parsed is the surface structure of a query.
type Parsed struct {
	// Terms are normalized words outside quoted phrases.
	Terms []string
	// Phrases are quoted phrases, lowercased.
	Phrases []string
	// Words counts every word including those inside phrases.
	Words int
}

// Parse extracts quoted phrases and normalized terms from q.
func Parse(q string) Parsed {
	var p Parsed
	for _, m := range phraseRegex.FindAllStringSubmatch(q, -1) {
		phrase := strings.TrimSpace(m[1] + m[2])
		if phrase != "" {
			p.Phrases = append(p.Phrases, strings.ToLower(phrase))
			p.Words += len(strings.Fields(phrase))
		}
	}
	remaining := phraseRegex.ReplaceAllString(q, " ")
	for _, word := range strings.Fields(remaining) {
		if t := normalizeToken(word); t != "" {
			p.Terms = append(p.Terms, t)
			p.Words++
		}
	}
	return p
}

// normalizeToken lowercases and strips edge punctuation, keeping internal
// hyphens and underscores.
func normalizeToken(token string) string {
	token = strings.ToLower(token)
	return strings.TrimFunc(token, func(r rune) bool {
		return (unicode.IsPunct(r) || unicode.IsSymbol(r)) && r != '-' && r != '_'
	})
}

// Words returns every normalized word of q, phrases included.
func Words(q string) []string {
	var out []string
	for _, w := range strings.Fields(q) {
		if t := normalizeToken(w); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CountMatchingTerms counts how many terms occur in text (case-insensitive substring).
func CountMatchingTerms(terms []string, text string) int {
	if len(terms) == 0 {
		return 0
	}
	count := 0
	textLower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(textLower, term) {
			count++
		}
	}
	return count
}
