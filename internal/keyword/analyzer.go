// Package keyword scores chunks lexically with BM25 over an in-memory snapshot
// of every searchable chunk.
package keyword

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
)

type tokenAnalyzer interface {
	Analyze(input []byte) analysis.TokenStream
}

// Analyzer turns text into index terms: unicode tokenization, lowercasing,
// English stop word removal and porter stemming. The same analyzer is used for
// the corpus and for queries so their terms line up.
type Analyzer struct {
	analyzer tokenAnalyzer
}

// NewAnalyzer returns an analyzer backed by bleve's English analysis chain.
func NewAnalyzer() (*Analyzer, error) {
	a := bleve.NewIndexMapping().AnalyzerNamed(en.AnalyzerName)
	if a == nil {
		return nil, fmt.Errorf("bleve analyzer %q not registered", en.AnalyzerName)
	}
	return &Analyzer{analyzer: a}, nil
}

// Terms returns the analyzed terms of text in order, with repeats.
func (a *Analyzer) Terms(text string) []string {
	if text == "" {
		return nil
	}
	tokens := a.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// Unique returns the distinct analyzed terms of text in first-seen order.
func (a *Analyzer) Unique(text string) []string {
	terms := a.Terms(text)
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
