// Package search turns a query into a ranked, cited answer: vector retrieval,
// optional lexical fusion, re-ranking and answer synthesis, parameterized by tier.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/ranking"
	"github.com/hyperjump/kotae/internal/storage"
)

var tracer = otel.Tracer("kotae.search")

// ErrInfrastructure is returned when the query cannot be embedded or the vector
// store cannot be read. Callers should treat it as retryable.
var ErrInfrastructure = errors.New("search: infrastructure unavailable")

// Default fusion weights.
const (
	DefaultVectorWeight  = 0.7
	DefaultLexicalWeight = 0.3
)

// QueryEmbedder embeds a query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher returns the k ready chunks nearest to a vector.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, vec []float32, k int) ([]models.ScoredChunk, error)
}

// DocumentGetter loads document rows.
type DocumentGetter interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// LexicalScorer scores candidate chunks against query terms.
type LexicalScorer interface {
	Terms(q string) []string
	Score(ctx context.Context, terms []string, candidates []string) (map[string]float64, error)
}

// Retrieval is the fused candidate list of one query.
type Retrieval struct {
	Candidates []ranking.Candidate
	// EffectiveQuery is the text that produced the candidates.
	EffectiveQuery string
	// Empty is set when no vector hit reached the tier floor.
	Empty bool
	// FellBack is set when the expanded query found nothing and the original was used.
	FellBack bool
	// Degraded is set when lexical scoring failed and fusion used vectors only.
	Degraded bool

	EmbedMs   int64
	VectorMs  int64
	LexicalMs int64
}

// Retriever fetches and fuses candidates for a processed query.
type Retriever struct {
	embedder      QueryEmbedder
	vectors       VectorSearcher
	docs          DocumentGetter
	lexical       LexicalScorer
	vectorWeight  float64
	lexicalWeight float64
	logger        *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithLexical enables hybrid fusion for tiers that ask for it.
func WithLexical(l LexicalScorer) RetrieverOption {
	return func(r *Retriever) { r.lexical = l }
}

// WithWeights sets the fusion weights.
func WithWeights(vector, lexical float64) RetrieverOption {
	return func(r *Retriever) {
		r.vectorWeight = vector
		r.lexicalWeight = lexical
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever creates a retriever.
func NewRetriever(embedder QueryEmbedder, vectors VectorSearcher, docs DocumentGetter, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder:      embedder,
		vectors:       vectors,
		docs:          docs,
		vectorWeight:  DefaultVectorWeight,
		lexicalWeight: DefaultLexicalWeight,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds the effective query and fetches tier.Candidates chunks. If no
// hit of an expanded query reaches tier.MinScore the original query is tried
// once; if that fails too the retrieval is Empty. Hybrid tiers
// fuse lexical scores over the same candidates. The result is floored at
// tier.MinScore, sorted by fused score (vector order on ties) and cut to
// tier.RerankWidth.
func (r *Retriever) Retrieve(ctx context.Context, q query.Processed, tier *config.TierConfig) (*Retrieval, error) {
	ctx, span := tracer.Start(ctx, "search.Retrieve", trace.WithAttributes(
		attribute.Int("candidates", tier.Candidates),
		attribute.Bool("hybrid", tier.Hybrid)))
	defer span.End()

	res := &Retrieval{EffectiveQuery: q.Effective}
	hits, err := r.vectorSearch(ctx, q.Effective, tier.Candidates, res)
	if err != nil {
		return nil, err
	}
	if !anyAbove(hits, tier.MinScore) && q.Expanded && q.Original != q.Effective {
		r.logger.Debug("expanded query found nothing above the floor, retrying original",
			zap.String("effective", q.Effective), zap.Int("hits", len(hits)))
		hits, err = r.vectorSearch(ctx, q.Original, tier.Candidates, res)
		if err != nil {
			return nil, err
		}
		res.FellBack = true
		res.EffectiveQuery = q.Original
	}
	if !anyAbove(hits, tier.MinScore) {
		res.Empty = true
		span.SetAttributes(attribute.Int("hits", len(hits)), attribute.Int("kept", 0))
		return res, nil
	}

	candidates := make([]ranking.Candidate, len(hits))
	ids := make([]string, len(hits))
	for i, h := range hits {
		candidates[i] = ranking.Candidate{Chunk: h.Chunk, VectorScore: h.Score}
		ids[i] = h.Chunk.ID
	}

	var (
		lexical map[string]float64
		gone    map[string]bool
	)
	hybrid := tier.Hybrid && r.lexical != nil
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		gone, err = r.hydrate(gctx, candidates)
		return err
	})
	if hybrid {
		g.Go(func() error {
			start := time.Now()
			scores, err := r.lexical.Score(gctx, r.lexical.Terms(res.EffectiveQuery), ids)
			res.LexicalMs = time.Since(start).Milliseconds()
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("lexical scoring failed, using vector scores only", zap.Error(err))
					res.Degraded = true
				}
				return nil
			}
			lexical = scores
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if gone[c.Chunk.DocumentID] {
			continue
		}
		c.Fused = c.VectorScore
		if hybrid && !res.Degraded {
			c.LexicalScore = lexical[c.Chunk.ID]
			c.Fused = r.vectorWeight*c.VectorScore + r.lexicalWeight*c.LexicalScore
		}
		c.Score = c.Fused
		if c.Fused >= tier.MinScore {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Fused > kept[j].Fused })
	if tier.RerankWidth > 0 && len(kept) > tier.RerankWidth {
		kept = kept[:tier.RerankWidth]
	}
	res.Candidates = kept
	span.SetAttributes(attribute.Int("hits", len(hits)), attribute.Int("kept", len(kept)))
	return res, nil
}

// anyAbove reports whether a hit has a vector score of at least floor. A zero
// score never counts, so a floor of 0 still needs some similarity.
func anyAbove(hits []models.ScoredChunk, floor float64) bool {
	for _, h := range hits {
		if h.Score > 0 && h.Score >= floor {
			return true
		}
	}
	return false
}

func (r *Retriever) vectorSearch(ctx context.Context, text string, k int, res *Retrieval) ([]models.ScoredChunk, error) {
	start := time.Now()
	vec, err := r.embedder.EmbedQuery(ctx, text)
	res.EmbedMs += time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrInfrastructure, err)
	}

	start = time.Now()
	hits, err := r.vectors.VectorSearch(ctx, vec, k)
	res.VectorMs += time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	return hits, nil
}

// hydrate fills document names and update times. It returns the ids of
// documents deleted since the vector join.
func (r *Retriever) hydrate(ctx context.Context, candidates []ranking.Candidate) (map[string]bool, error) {
	docs := make(map[string]*models.Document)
	gone := make(map[string]bool)
	for i := range candidates {
		id := candidates[i].Chunk.DocumentID
		doc, seen := docs[id]
		if !seen {
			var err error
			doc, err = r.docs.GetDocument(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				doc = nil
				gone[id] = true
			} else if err != nil {
				return nil, fmt.Errorf("%w: load document: %w", ErrInfrastructure, err)
			}
			docs[id] = doc
		}
		if doc != nil {
			candidates[i].DocumentName = doc.Name
			candidates[i].DocumentUpdatedAt = doc.UpdatedAt
		}
	}
	return gone, nil
}
