package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cache"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/ranking"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrInvalidQuery wraps query validation failures.
var ErrInvalidQuery = errors.New("search: invalid query")

// DefaultQueryTimeout bounds one search when no timeout is configured.
const DefaultQueryTimeout = 30 * time.Second

// Search outcomes recorded in metrics.
const (
	outcomeGrounded = "grounded"
	outcomeEmpty    = "empty"
	outcomeError    = "error"
	outcomeCached   = "cached"
)

// Engine runs the tiered retrieval pipeline: process, retrieve, rerank, answer.
type Engine struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	tiers       config.TiersConfig
	defaultTier models.Tier
	processor   *query.Processor
	reranker    ranking.Reranker
	fallback    ranking.Reranker
	cache       *cache.Layer
	metrics     *metrics.Metrics
	logger      *zap.Logger
	timeout     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache caches grounded responses and answers in layer.
func WithCache(layer *cache.Layer) Option {
	return func(e *Engine) { e.cache = layer }
}

// WithReranker sets the primary re-ranker. On error the fallback re-ranker is used.
func WithReranker(r ranking.Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// WithFallbackReranker replaces the default local re-ranker.
func WithFallbackReranker(r ranking.Reranker) Option {
	return func(e *Engine) { e.fallback = r }
}

// WithProcessor sets the query processor.
func WithProcessor(p *query.Processor) Option {
	return func(e *Engine) { e.processor = p }
}

// WithDefaultTier sets the tier used when a query names none.
func WithDefaultTier(t models.Tier) Option {
	return func(e *Engine) { e.defaultTier = t }
}

// WithTimeout bounds each search.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithMetrics records search latency and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine over tiers.
func NewEngine(retriever *Retriever, synthesizer *Synthesizer, tiers config.TiersConfig, opts ...Option) *Engine {
	fallback := ranking.NewFallbackReranker(ranking.FallbackConfig{
		FusedWeight:      0.8,
		RecencyWeight:    0.1,
		OverlapWeight:    0.1,
		DiversityPenalty: 0.85,
		RecencyHalfLife:  90 * 24 * time.Hour,
	})
	e := &Engine{
		retriever:   retriever,
		synthesizer: synthesizer,
		tiers:       tiers,
		defaultTier: models.TierAdvanced,
		processor:   query.NewProcessor(query.Config{}),
		fallback:    fallback,
		logger:      zap.NewNop(),
		timeout:     DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reranker == nil {
		e.reranker = e.fallback
	}
	return e
}

// Search answers q. A query with no relevant content gets an ungrounded
// response, not an error. Infrastructure failures return ErrInfrastructure.
// Only grounded responses are cached.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.defaultTier); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	tier, err := e.tiers.Get(q.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	count := q.ResultCount
	if count == 0 {
		count = tier.Results
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("tier", string(q.Tier)),
		attribute.Int("result_count", count)))
	defer span.End()

	resp, outcome, err := e.search(ctx, q, tier, count, start)
	e.metrics.RecordSearch(string(q.Tier), outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("search failed",
			zap.String("tier", string(q.Tier)),
			zap.Error(err))
		return nil, err
	}
	e.logger.Info("search completed",
		zap.String("tier", string(q.Tier)),
		zap.String("outcome", outcome),
		zap.Int("citations", len(resp.Citations)),
		zap.Int64("total_ms", resp.Timing.TotalMs))
	return resp, nil
}

func (e *Engine) search(ctx context.Context, q *models.SearchQuery, tier *config.TierConfig, count int, start time.Time) (*models.SearchResponse, string, error) {
	processed := e.processor.Process(q.Query, tier.Expand)
	timing := models.Timing{QueryMs: time.Since(start).Milliseconds()}

	key := utils.HashParts(string(q.Tier), processed.Effective, strconv.Itoa(count))
	if cached, ok := e.cachedResponse(ctx, key); ok {
		cached.Cached = true
		cached.Timing = models.Timing{QueryMs: timing.QueryMs, TotalMs: time.Since(start).Milliseconds()}
		return cached, outcomeCached, nil
	}

	resp := &models.SearchResponse{
		Query:          q.Query,
		EffectiveQuery: processed.Effective,
		Tier:           q.Tier,
		QueryType:      string(processed.Type),
		Citations:      []models.Citation{},
	}

	retrieval, err := e.retriever.Retrieve(ctx, processed, tier)
	if err != nil {
		return nil, outcomeError, err
	}
	resp.EffectiveQuery = retrieval.EffectiveQuery
	resp.FellBack = retrieval.FellBack
	resp.Degraded = retrieval.Degraded
	timing.EmbedMs = retrieval.EmbedMs
	timing.VectorMs = retrieval.VectorMs
	timing.LexicalMs = retrieval.LexicalMs

	if len(retrieval.Candidates) == 0 {
		resp.Reason = models.ReasonNoRelevantContent
		timing.TotalMs = time.Since(start).Milliseconds()
		resp.Timing = timing
		return resp, outcomeEmpty, nil
	}

	rerankStart := time.Now()
	ranked := e.rerank(ctx, tier, retrieval.EffectiveQuery, retrieval.Candidates, count)
	timing.RerankMs = time.Since(rerankStart).Milliseconds()

	answerStart := time.Now()
	answer, err := e.answer(ctx, retrieval.EffectiveQuery, ranked, tier.ContextBudget)
	timing.AnswerMs = time.Since(answerStart).Milliseconds()
	if err != nil {
		return nil, outcomeError, err
	}

	resp.Answer = answer.Text
	resp.AnswerMode = answer.Mode
	resp.Citations = answer.Citations
	resp.Grounded = true
	timing.TotalMs = time.Since(start).Milliseconds()
	resp.Timing = timing

	if e.cache != nil {
		if err := e.cache.Search.SetJSON(ctx, key, resp); err != nil {
			e.logger.Warn("failed to cache search response", zap.Error(err))
		}
	}
	return resp, outcomeGrounded, nil
}

// rerank orders candidates for tiers that re-rank, falling back to the local
// re-ranker and then to fused order. Other tiers keep fused order.
func (e *Engine) rerank(ctx context.Context, tier *config.TierConfig, q string, candidates []ranking.Candidate, k int) []ranking.Candidate {
	if tier.Rerank {
		ranked, err := e.reranker.Rerank(ctx, q, candidates, k)
		if err == nil {
			return ranked
		}
		e.logger.Warn("re-ranker failed, using fallback", zap.Error(err))
		if e.fallback != e.reranker {
			if ranked, err := e.fallback.Rerank(ctx, q, candidates, k); err == nil {
				return ranked
			}
		}
	}
	return candidates[:min(k, len(candidates))]
}

func (e *Engine) answer(ctx context.Context, q string, ranked []ranking.Candidate, budget int) (*Answer, error) {
	var key string
	if e.cache != nil {
		parts := make([]string, 0, len(ranked)+1)
		parts = append(parts, q)
		for _, c := range ranked {
			parts = append(parts, c.Chunk.ID)
		}
		key = utils.HashParts(parts...)
		var cached Answer
		ok, err := e.cache.Answer.GetJSON(ctx, key, &cached)
		if err != nil {
			e.logger.Warn("answer cache lookup failed", zap.Error(err))
		}
		if ok {
			return &cached, nil
		}
	}

	answer, err := e.synthesizer.Synthesize(ctx, q, ranked, budget)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		if err := e.cache.Answer.SetJSON(ctx, key, answer); err != nil {
			e.logger.Warn("failed to cache answer", zap.Error(err))
		}
	}
	return answer, nil
}

func (e *Engine) cachedResponse(ctx context.Context, key string) (*models.SearchResponse, bool) {
	if e.cache == nil {
		return nil, false
	}
	var resp models.SearchResponse
	ok, err := e.cache.Search.GetJSON(ctx, key, &resp)
	if err != nil {
		e.logger.Warn("search cache lookup failed", zap.Error(err))
		return nil, false
	}
	return &resp, ok
}
