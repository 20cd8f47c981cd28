// Package embedding turns text into fixed-dimension vectors through a pluggable
// provider, with caching, bounded fan-out, and retries in Client.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrServiceUnavailable indicates the embedding service could not be reached
	// for any item of a request. It is retryable.
	ErrServiceUnavailable = errors.New("embedding: service unavailable")

	// ErrEmbeddingFailed indicates some items could not be embedded after retries.
	ErrEmbeddingFailed = errors.New("embedding: generation failed")

	// ErrDimensionMismatch indicates the provider returned a vector of the wrong size.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("embedding: empty input")
)

// Embedder produces vector embeddings for text. Implementations talk to one
// provider and do not cache or retry; Client adds both.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
