// Package ranking reorders fused retrieval candidates before answer synthesis.
package ranking

import (
	"context"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// Candidate is one retrieved chunk with its scores.
type Candidate struct {
	Chunk        *models.Chunk
	DocumentName string
	// DocumentUpdatedAt feeds the recency signal; zero means unknown.
	DocumentUpdatedAt time.Time

	VectorScore  float64
	LexicalScore float64
	// Fused is the weighted vector and lexical score in [0,1].
	Fused float64
	// Score is the final ranking score. Retrieval sets it to Fused.
	Score float64
}

// Reranker reorders candidates for query and returns at most k of them.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, k int) ([]Candidate, error)
}
