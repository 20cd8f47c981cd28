package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/cache"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/retry"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

var tracer = otel.Tracer("kotae.embedding")

// ClientConfig bounds fan-out and retries.
type ClientConfig struct {
	// Model is part of the cache key so switching models never serves stale vectors.
	Model          string
	Concurrency    int
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Client is the embedding entry point used by ingestion and search. It
// preserves input order, serves repeated texts from the embedding cache, and
// sends misses to the provider in sub-batches through a fixed number of workers.
type Client struct {
	provider Embedder
	cache    *cache.Namespace
	cfg      ClientConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache sets the embedding cache namespace.
func WithCache(ns *cache.Namespace) ClientOption {
	return func(c *Client) { c.cache = ns }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = utils.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient wraps provider.
func NewClient(provider Embedder, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	c := &Client{provider: provider, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimensions returns the provider's vector size.
func (c *Client) Dimensions() int { return c.provider.Dimensions() }

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed returns one vector per text, in order. If the provider is unreachable
// for every request the error wraps ErrServiceUnavailable; if only some requests
// fail it wraps ErrEmbeddingFailed. Non-retryable causes are marked Permanent.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	ctx, span := tracer.Start(ctx, "embedding.Embed")
	defer span.End()

	out := make([][]float32, len(texts))
	positions := make(map[string][]int, len(texts))
	var misses []string // unique cache keys in first-seen order
	missText := make(map[string]string)
	hits := 0

	for i, text := range texts {
		key := utils.HashParts(c.cfg.Model, text)
		if idxs, seen := positions[key]; seen {
			positions[key] = append(idxs, i)
			if v := out[idxs[0]]; v != nil {
				out[i] = v
				hits++
			}
			continue
		}
		positions[key] = []int{i}
		if v, ok := c.lookup(ctx, key); ok {
			out[i] = v
			hits++
			continue
		}
		misses = append(misses, key)
		missText[key] = text
	}
	c.metrics.RecordEmbeddingTexts(hits, len(texts)-hits)
	span.SetAttributes(attribute.Int("texts", len(texts)), attribute.Int("cache_hits", hits))

	if len(misses) == 0 {
		return out, nil
	}

	batches := make([][]string, 0, (len(misses)+c.cfg.BatchSize-1)/c.cfg.BatchSize)
	for start := 0; start < len(misses); start += c.cfg.BatchSize {
		batches = append(batches, misses[start:min(start+c.cfg.BatchSize, len(misses))])
	}

	errs := make([]error, len(batches))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for bi, keys := range batches {
		g.Go(func() error {
			batchTexts := make([]string, len(keys))
			for i, k := range keys {
				batchTexts[i] = missText[k]
			}
			vecs, err := c.embedWithRetry(ctx, batchTexts)
			if err != nil {
				errs[bi] = err
				return nil
			}
			for i, k := range keys {
				for _, pos := range positions[k] {
					out[pos] = vecs[i]
				}
				c.store(ctx, k, vecs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := classify(ctx, errs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("embedding failed", zap.Int("texts", len(texts)), zap.Int("batches", len(batches)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := retry.Do(ctx, func(ctx context.Context) error {
		v, err := c.provider.EmbedBatch(ctx, texts)
		c.metrics.RecordEmbeddingRequest(err == nil)
		if err != nil {
			c.logger.Debug("embedding request failed", zap.Int("texts", len(texts)), zap.Error(err))
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(v), len(texts))
		}
		dims := c.provider.Dimensions()
		for _, vec := range v {
			if len(vec) != dims {
				return retry.Permanent(fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), dims))
			}
		}
		vecs = v
		return nil
	}, c.cfg.MaxAttempts, c.cfg.RetryBaseDelay)
	return vecs, err
}

// classify folds per-batch errors into the client's error contract.
func classify(ctx context.Context, errs []error) error {
	var failed []error
	permanent := false
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		if retry.IsPermanent(err) {
			permanent = true
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	cause := errors.Join(failed...)
	switch {
	case permanent:
		return retry.Permanent(fmt.Errorf("%w: %w", ErrEmbeddingFailed, cause))
	case len(failed) == len(errs):
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, cause)
	default:
		return fmt.Errorf("%w: %d of %d requests failed: %w", ErrEmbeddingFailed, len(failed), len(errs), cause)
	}
}

func (c *Client) lookup(ctx context.Context, key string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}
	b, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || len(b) != 4*c.provider.Dimensions() {
		return nil, false
	}
	return vector.DecodeFloat32s(b), true
}

func (c *Client) store(ctx context.Context, key string, vec []float32) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, vector.EncodeFloat32s(vec)); err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// Close closes the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}
