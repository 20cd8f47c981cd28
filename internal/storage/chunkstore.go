package storage

import (
	"context"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

var tracer = otel.Tracer("kotae.storage")

const (
	defaultOverFetch = 3
	maxFetchRounds   = 3
	publishBatchSize = 256
)

// ChunkStore combines relational storage with a vector index. Vector hits are
// always joined against the relational readiness state before being returned.
type ChunkStore struct {
	db        Storage
	index     vector.Index
	overFetch int
	logger    *zap.Logger
}

// ChunkStoreOption configures a ChunkStore.
type ChunkStoreOption func(*ChunkStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ChunkStoreOption {
	return func(c *ChunkStore) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOverFetch sets how many backend hits are requested per wanted result.
func WithOverFetch(n int) ChunkStoreOption {
	return func(c *ChunkStore) {
		if n > 0 {
			c.overFetch = n
		}
	}
}

// NewChunkStore returns a ChunkStore over db and index.
func NewChunkStore(db Storage, index vector.Index, opts ...ChunkStoreOption) *ChunkStore {
	c := &ChunkStore{db: db, index: index, overFetch: defaultOverFetch, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DB returns the underlying relational storage.
func (c *ChunkStore) DB() Storage { return c.db }

// PutChunks stores chunks together with the document row.
func (c *ChunkStore) PutChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	return c.db.PutChunks(ctx, doc, chunks)
}

// GetChunksByDocument returns a document's chunks in order.
func (c *ChunkStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	return c.db.GetChunksByDocument(ctx, documentID)
}

// VectorSearch returns up to k chunks most similar to query, scores in [0,1].
// Only embedded chunks of ready documents are returned; the backend is
// over-fetched so stale or unready hits do not starve the result.
func (c *ChunkStore) VectorSearch(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "ChunkStore.VectorSearch")
	defer span.End()

	if k <= 0 {
		return nil, nil
	}
	fetch := k * c.overFetch
	for round := 0; ; round++ {
		hits, err := c.index.Search(ctx, query, fetch)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		ready, err := c.db.ReadyChunksByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("readiness join: %w", err)
		}
		results := make([]models.ScoredChunk, 0, k)
		for _, h := range hits {
			chunk, ok := ready[h.ID]
			if !ok {
				continue
			}
			results = append(results, models.ScoredChunk{Chunk: chunk, Score: h.Score})
			if len(results) == k {
				break
			}
		}
		// a short backend page means the index is exhausted
		if len(results) == k || len(hits) < fetch || round+1 == maxFetchRounds {
			span.SetAttributes(attribute.Int("hits", len(hits)), attribute.Int("results", len(results)))
			if dropped := len(hits) - len(ready); dropped > 0 {
				c.logger.Debug("vector hits filtered by readiness", zap.Int("dropped", dropped))
			}
			return results, nil
		}
		fetch *= 4
	}
}

// AllReadyChunks streams every searchable chunk.
func (c *ChunkStore) AllReadyChunks(ctx context.Context) iter.Seq2[*models.Chunk, error] {
	return c.db.ReadyChunks(ctx)
}

// DeleteChunks removes a document's chunks from the vector index and the database.
func (c *ChunkStore) DeleteChunks(ctx context.Context, documentID string) error {
	ids, err := c.db.ChunkIDs(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunk ids: %w", err)
	}
	if err := c.index.Remove(ctx, ids); err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}
	return c.db.DeleteChunks(ctx, documentID)
}

// DeleteDocument removes a document, its chunks, references, and vectors.
func (c *ChunkStore) DeleteDocument(ctx context.Context, documentID string) error {
	ids, err := c.db.ChunkIDs(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunk ids: %w", err)
	}
	if err := c.index.Remove(ctx, ids); err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}
	return c.db.DeleteDocument(ctx, documentID)
}

// Publish adds a document's embedded chunks to the vector index.
func (c *ChunkStore) Publish(ctx context.Context, documentID string) (int, error) {
	chunks, err := c.db.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for _, ch := range chunks {
		if ch.Embedding == nil {
			return 0, fmt.Errorf("chunk %s has no embedding", ch.ID)
		}
		ids = append(ids, ch.ID)
		vecs = append(vecs, ch.Embedding)
	}
	if err := c.index.Add(ctx, ids, vecs); err != nil {
		return 0, fmt.Errorf("publish vectors: %w", err)
	}
	return len(ids), nil
}

// Rebuild re-adds every searchable vector when the index size disagrees with
// the database. Stale index entries are harmless because searches are joined.
func (c *ChunkStore) Rebuild(ctx context.Context) error {
	want, err := c.db.CountReadyEmbeddings(ctx)
	if err != nil {
		return err
	}
	have, err := c.index.Size(ctx)
	if err != nil {
		return err
	}
	if int64(have) == want {
		c.logger.Info("vector index in sync", zap.Int("vectors", have))
		return nil
	}
	c.logger.Info("rebuilding vector index", zap.Int("have", have), zap.Int64("want", want))

	ids := make([]string, 0, publishBatchSize)
	vecs := make([][]float32, 0, publishBatchSize)
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		if err := c.index.Add(ctx, ids, vecs); err != nil {
			return err
		}
		ids, vecs = ids[:0], vecs[:0]
		return nil
	}
	for chunk, err := range c.db.ReadyChunks(ctx) {
		if err != nil {
			return err
		}
		ids = append(ids, chunk.ID)
		vecs = append(vecs, chunk.Embedding)
		if len(ids) == publishBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return c.index.Save()
}

// Close saves and closes the vector index, then closes the database.
func (c *ChunkStore) Close() error {
	if err := c.index.Save(); err != nil {
		c.logger.Warn("failed to save vector index", zap.Error(err))
	}
	if err := c.index.Close(); err != nil {
		c.logger.Warn("failed to close vector index", zap.Error(err))
	}
	return c.db.Close()
}
