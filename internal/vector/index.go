// Package vector provides vector index backends for chunk embeddings.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector does not have the index dimension.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Index stores chunk embeddings and answers nearest-neighbour queries.
// Add is an upsert: adding an existing ID replaces its vector.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Remove(ctx context.Context, ids []string) error
	Size(ctx context.Context) (int, error)
	// Save persists the index where the backend needs it; remote backends no-op.
	Save() error
	Close() error
}

// Result is a single vector search hit. ID is the chunk ID; Score is the cosine
// similarity clamped to [0,1].
type Result struct {
	ID    string
	Score float64
}
