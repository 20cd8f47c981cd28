package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// MockEmbedder is a deterministic embedder for tests and offline use. Each
// lowercased word is hashed into a bucket, so texts sharing words have a high
// cosine similarity and the same text always gets the same embedding.
type MockEmbedder struct {
	dimensions int

	mu    sync.Mutex
	calls int
	// fail, when set, is consulted before each batch; a non-nil return fails it.
	fail func(call int, texts []string) error
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// FailWith installs a failure hook. call is 1-based across all EmbedBatch calls.
func (e *MockEmbedder) FailWith(fn func(call int, texts []string) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fn
}

// Calls returns how many times EmbedBatch has been called.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed returns the embedding of one text.
func (e *MockEmbedder) Embed(text string) []float32 {
	emb := make([]float32, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		emb[int(h.Sum32()%uint32(e.dimensions))] += 1
	}
	if len(words) == 0 {
		emb[0] = 1
	}
	// Normalize to unit length for cosine similarity
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	norm := 1.0 / math.Sqrt(sum)
	for i := range emb {
		emb[i] *= float32(norm)
	}
	return emb
}

// EmbedBatch embeds each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	call, fail := e.calls, e.fail
	e.mu.Unlock()
	if fail != nil {
		if err := fail(call, texts); err != nil {
			return nil, err
		}
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.Embed(text)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
