package ranking

import (
	"context"
	"math"
	"time"

	"github.com/hyperjump/kotae/internal/query"
)

// FallbackConfig weighs the local re-ranking signals.
type FallbackConfig struct {
	FusedWeight   float64
	RecencyWeight float64
	OverlapWeight float64
	// DiversityPenalty multiplies a candidate's score once per chunk already
	// selected from the same document.
	DiversityPenalty float64
	RecencyHalfLife  time.Duration
}

// FallbackReranker re-ranks without a model: a weighted sum of the fused score,
// document recency and query term overlap, then greedy selection that
// penalizes repeated documents.
type FallbackReranker struct {
	cfg FallbackConfig
	now func() time.Time
}

// NewFallbackReranker returns a FallbackReranker. A zero half-life disables recency.
func NewFallbackReranker(cfg FallbackConfig) *FallbackReranker {
	if cfg.DiversityPenalty <= 0 || cfg.DiversityPenalty > 1 {
		cfg.DiversityPenalty = 1
	}
	return &FallbackReranker{cfg: cfg, now: time.Now}
}

// Rerank implements Reranker. Ties keep the incoming order.
func (r *FallbackReranker) Rerank(_ context.Context, q string, candidates []Candidate, k int) ([]Candidate, error) {
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	terms := query.Words(q)
	base := make([]float64, len(candidates))
	for i, c := range candidates {
		base[i] = r.cfg.FusedWeight*c.Fused +
			r.cfg.RecencyWeight*r.recency(c.DocumentUpdatedAt) +
			r.cfg.OverlapWeight*overlap(terms, c.Chunk.Content)
	}

	used := make([]bool, len(candidates))
	perDoc := make(map[string]int)
	out := make([]Candidate, 0, k)
	for len(out) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			s := base[i] * math.Pow(r.cfg.DiversityPenalty, float64(perDoc[c.Chunk.DocumentID]))
			if s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		c := candidates[best]
		c.Score = bestScore
		perDoc[c.Chunk.DocumentID]++
		out = append(out, c)
	}
	return out, nil
}

// recency decays from 1 for a document updated now, halving every half-life.
func (r *FallbackReranker) recency(updated time.Time) float64 {
	if updated.IsZero() || r.cfg.RecencyHalfLife <= 0 {
		return 0
	}
	age := r.now().Sub(updated)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(r.cfg.RecencyHalfLife))
}

// overlap is the fraction of query words found in content.
func overlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	return float64(query.CountMatchingTerms(terms, content)) / float64(len(terms))
}
