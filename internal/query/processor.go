package query

import "strings"

// Defaults for Config fields left zero.
const (
	DefaultMaxWords          = 8
	DefaultShortWords        = 3
	DefaultMaxExpansionTerms = 4
)

// Config bounds when and how much a query is expanded.
type Config struct {
	// MaxWords disables expansion for longer queries.
	MaxWords int
	// ShortWords enables expansion for queries up to this many words.
	ShortWords        int
	MaxExpansionTerms int
}

// Processed is a query ready for retrieval.
type Processed struct {
	Original string
	// Effective is the text actually embedded and scored.
	Effective string
	Type      Type
	Expanded  bool
	Phrases   []string
	Terms     []string
}

// Processor classifies and expands queries.
type Processor struct {
	cfg Config
}

// NewProcessor returns a processor; zero Config fields take defaults.
func NewProcessor(cfg Config) *Processor {
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}
	if cfg.ShortWords <= 0 {
		cfg.ShortWords = DefaultShortWords
	}
	if cfg.MaxExpansionTerms <= 0 {
		cfg.MaxExpansionTerms = DefaultMaxExpansionTerms
	}
	return &Processor{cfg: cfg}
}

// ShouldExpand reports whether q is short enough to benefit from expansion.
// Quoted phrases are never expanded.
func (p *Processor) ShouldExpand(q string) bool {
	parsed := Parse(q)
	if len(parsed.Phrases) > 0 || strings.ContainsAny(q, `"`) {
		return false
	}
	if parsed.Words == 0 || parsed.Words > p.cfg.MaxWords {
		return false
	}
	return parsed.Words <= p.cfg.ShortWords
}

// Expand appends up to MaxExpansionTerms synonyms to q. Term synonyms come
// first in query order, then synonyms of the query class. Words already in q
// are never added. The original text is kept as the prefix.
func (p *Processor) Expand(q string, t Type) string {
	present := make(map[string]struct{})
	for _, w := range Words(q) {
		present[w] = struct{}{}
	}
	added := make([]string, 0, p.cfg.MaxExpansionTerms)
	add := func(candidates []string) {
		for _, c := range candidates {
			if len(added) == p.cfg.MaxExpansionTerms {
				return
			}
			if _, ok := present[c]; ok {
				continue
			}
			present[c] = struct{}{}
			added = append(added, c)
		}
	}
	for _, w := range Words(q) {
		add(termSynonyms[w])
	}
	add(typeSynonyms[t])
	if len(added) == 0 {
		return q
	}
	return q + " " + strings.Join(added, " ")
}

// Process classifies q and, when enabled and worthwhile, expands it.
func (p *Processor) Process(q string, enabled bool) Processed {
	q = strings.TrimSpace(q)
	parsed := Parse(q)
	out := Processed{
		Original:  q,
		Effective: q,
		Type:      Classify(q),
		Phrases:   parsed.Phrases,
		Terms:     parsed.Terms,
	}
	if enabled && p.ShouldExpand(q) {
		if expanded := p.Expand(q, out.Type); expanded != q {
			out.Effective = expanded
			out.Expanded = true
		}
	}
	return out
}
