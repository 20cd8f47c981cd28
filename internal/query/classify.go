package query

import "strings"

// Type is the intent class of a query. It selects expansion synonyms.
type Type string

const (
	TypeProcedural      Type = "procedural"
	TypeDefinitional    Type = "definitional"
	TypeTroubleshooting Type = "troubleshooting"
	TypeLocational      Type = "locational"
	TypeGeneral         Type = "general"
)

var (
	troubleshootingMarkers = []string{
		"error", "errors", "fail", "fails", "failed", "failing", "failure", "broken", "crash", "crashes",
		"fix", "issue", "problem", "exception", "timeout", "cannot", "can't", "unable", "denied", "bug",
	}
	troubleshootingPhrases = []string{"not working", "doesn't work", "does not work", "why does", "why is", "won't"}

	proceduralPrefixes = []string{"how to", "how do", "how can", "how should", "steps to", "way to"}
	proceduralMarkers  = []string{"install", "configure", "setup", "set", "steps", "guide", "tutorial", "enable", "create"}

	definitionalPrefixes = []string{"what is", "what are", "what's", "who is", "define", "definition of", "meaning of"}
	definitionalMarkers  = []string{"definition", "meaning", "glossary"}

	locationalPrefixes = []string{"where", "which file", "which folder", "which directory"}
	locationalMarkers  = []string{"location", "located", "path", "directory", "folder"}
)

// Classify returns the intent class of q. Troubleshooting wins over the other
// classes, so "how to fix a crash" is troubleshooting.
func Classify(q string) Type {
	lower := strings.ToLower(strings.TrimSpace(q))
	words := Words(lower)
	switch {
	case hasAnyWord(words, troubleshootingMarkers) || containsAny(lower, troubleshootingPhrases):
		return TypeTroubleshooting
	case hasAnyPrefix(lower, proceduralPrefixes) || hasAnyWord(words, proceduralMarkers):
		return TypeProcedural
	case hasAnyPrefix(lower, definitionalPrefixes) || hasAnyWord(words, definitionalMarkers):
		return TypeDefinitional
	case hasAnyPrefix(lower, locationalPrefixes) || hasAnyWord(words, locationalMarkers):
		return TypeLocational
	}
	return TypeGeneral
}

func hasAnyWord(words, markers []string) bool {
	for _, w := range words {
		for _, m := range markers {
			if w == m {
				return true
			}
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
