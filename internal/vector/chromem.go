package vector

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

var chromemTracer = otel.Tracer("kotae.vector.chromem")

const chromemCollection = "chunks"

// errNoEmbeddingFunc is returned if chromem is ever asked to embed text itself.
// Every document is added with a precomputed embedding.
var errNoEmbeddingFunc = errors.New("vector: chromem collection has no embedding function")

// ChromemIndex stores vectors in an embedded, persistent chromem-go database.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimensions int
	logger     *zap.Logger
}

// NewChromemIndex opens (or creates) a chromem database under dir.
func NewChromemIndex(dir string, dimensions int, logger *zap.Logger) (*ChromemIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	col, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", chromemCollection, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("chromem vector index opened", zap.String("path", dir), zap.Int("vectors", col.Count()))
	return &ChromemIndex{db: db, collection: col, dimensions: dimensions, logger: logger}, nil
}

// Add upserts vectors. Chunk IDs are stored as chromem document IDs.
func (c *ChromemIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Add")
	defer span.End()

	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != c.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vectors[i]), c.dimensions)
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		docs[i] = chromem.Document{ID: id, Embedding: vec}
	}
	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	span.SetAttributes(attribute.Int("vectors_added", len(ids)))
	return nil
}

// Search returns the k nearest vectors.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()

	if len(query) != c.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), c.dimensions)
	}
	// chromem requires nResults <= document count
	count := c.collection.Count()
	if k <= 0 || count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	q := make([]float32, len(query))
	copy(q, query)
	hits, err := c.collection.QueryEmbedding(ctx, q, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", chromemCollection, err)
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{ID: h.ID, Score: utils.CosineToUnit(float64(h.Similarity))}
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// Remove deletes vectors by ID.
func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting from collection %s: %w", chromemCollection, err)
	}
	return nil
}

// Size returns the number of stored vectors.
func (c *ChromemIndex) Size(ctx context.Context) (int, error) {
	return c.collection.Count(), nil
}

// Save is a no-op: chromem persists every write.
func (c *ChromemIndex) Save() error { return nil }

// Close is a no-op: chromem holds no open handles between writes.
func (c *ChromemIndex) Close() error { return nil }
