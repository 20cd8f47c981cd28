package keyword

import (
	"context"
	"iter"
	"math"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Snapshot holds term statistics over all searchable chunks at one point in time.
// It is immutable once built.
type Snapshot struct {
	freqs   map[string]map[string]int // chunk id -> term -> frequency
	lengths map[string]int
	df      map[string]int
	n       int
	avgdl   float64

	builtAt    time.Time
	generation uint64
}

// BuildSnapshot analyzes every chunk yielded by chunks.
func BuildSnapshot(ctx context.Context, a *Analyzer, chunks iter.Seq2[*models.Chunk, error]) (*Snapshot, error) {
	s := &Snapshot{
		freqs:   make(map[string]map[string]int),
		lengths: make(map[string]int),
		df:      make(map[string]int),
	}
	total := 0
	for ch, err := range chunks {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		terms := a.Terms(ch.Content)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			s.df[t]++
		}
		s.freqs[ch.ID] = tf
		s.lengths[ch.ID] = len(terms)
		total += len(terms)
		s.n++
	}
	if s.n > 0 {
		s.avgdl = float64(total) / float64(s.n)
	}
	return s, nil
}

// Len returns the number of chunks in the snapshot.
func (s *Snapshot) Len() int { return s.n }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// DocFreq returns how many chunks contain term.
func (s *Snapshot) DocFreq(term string) int { return s.df[term] }

// IDF returns ln(1 + (N - df + 0.5) / (df + 0.5)).
func (s *Snapshot) IDF(term string) float64 {
	df := float64(s.df[term])
	return math.Log(1 + (float64(s.n)-df+0.5)/(df+0.5))
}

// Score returns raw BM25 scores of terms against each candidate chunk id.
// Candidates unknown to the snapshot or without any matching term are omitted.
func (s *Snapshot) Score(terms []string, candidates []string, k1, b float64) map[string]float64 {
	out := make(map[string]float64, len(candidates))
	if s.n == 0 || len(terms) == 0 {
		return out
	}
	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		if s.df[t] > 0 {
			idf[t] = s.IDF(t)
		}
	}
	for _, id := range candidates {
		tf, ok := s.freqs[id]
		if !ok {
			continue
		}
		dl := float64(s.lengths[id])
		avgdl := s.avgdl
		if avgdl == 0 {
			avgdl = 1
		}
		var score float64
		for t, w := range idf {
			f := float64(tf[t])
			if f == 0 {
				continue
			}
			score += w * f * (k1 + 1) / (f + k1*(1-b+b*dl/avgdl))
		}
		if score > 0 {
			out[id] = score
		}
	}
	return out
}
