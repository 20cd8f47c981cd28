package search

import (
	"strings"
	"unicode"
)

// Highlight returns a window of at most maxLen runes of content around the
// first occurrence of any term, with every occurrence wrapped in ** marks.
// Matching is case-insensitive. With no match the window starts at the
// beginning. A maxLen of 0 keeps the whole content.
func Highlight(content string, terms []string, maxLen int) string {
	runes := []rune(content)
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}
	needles := make([][]rune, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			needles = append(needles, []rune(strings.ToLower(t)))
		}
	}

	start, end := 0, len(runes)
	if maxLen > 0 && len(runes) > maxLen {
		if first := firstMatch(lower, needles, 0); first >= 0 {
			start = max(0, first-maxLen/4)
		}
		start = min(start, len(runes)-maxLen)
		end = start + maxLen
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	for i := start; i < end; {
		if n := matchAt(lower, needles, i); n > 0 && i+n <= end {
			b.WriteString("**")
			b.WriteString(string(runes[i : i+n]))
			b.WriteString("**")
			i += n
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	if end < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}

func firstMatch(text []rune, needles [][]rune, from int) int {
	for i := from; i < len(text); i++ {
		if matchAt(text, needles, i) > 0 {
			return i
		}
	}
	return -1
}

// matchAt returns the length of the longest needle starting at text[i] on a
// word boundary, or 0.
func matchAt(text []rune, needles [][]rune, i int) int {
	if i > 0 && isWordRune(text[i-1]) {
		return 0
	}
	best := 0
	for _, n := range needles {
		if len(n) <= best || i+len(n) > len(text) {
			continue
		}
		if string(text[i:i+len(n)]) == string(n) {
			best = len(n)
		}
	}
	return best
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
