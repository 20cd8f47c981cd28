package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cache"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/ranking"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

const connectTimeout = 10 * time.Second

// Components holds initialized services.
type Components struct {
	Metrics  *metrics.Metrics
	Cache    *cache.Layer
	Store    *storage.ChunkStore
	Embedder *embedding.Client
	Lexical  *keyword.Index
	Pipeline *indexer.Pipeline
	Engine   *search.Engine
}

// Storage returns the document database.
func (c *Components) Storage() storage.Storage { return c.Store.DB() }

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	c := &Components{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	cacheStore, err := newCacheStore(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	c.Cache = cache.NewLayer(cacheStore, cache.TTLs{
		Embedding: cfg.Cache.EmbeddingTTL,
		Search:    cfg.Cache.SearchTTL,
		Answer:    cfg.Cache.AnswerTTL,
	}, cache.WithLogger(logger), cache.WithMetrics(c.Metrics))

	db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	vectors, err := vector.New(ctx, vector.Config{
		Backend:    cfg.Storage.VectorBackend,
		Dimensions: cfg.Embedding.Dimensions,
		Path:       cfg.Storage.VectorIndexPath,
		Qdrant: vector.QdrantOptions{
			Host:       cfg.Storage.Qdrant.Host,
			Port:       cfg.Storage.Qdrant.Port,
			UseTLS:     cfg.Storage.Qdrant.UseTLS,
			APIKey:     cfg.Storage.Qdrant.APIKey,
			Collection: cfg.Storage.Qdrant.Collection,
		},
		Logger: logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.Store = storage.NewChunkStore(db, vectors, storage.WithLogger(logger))
	if err := c.Store.Rebuild(ctx); err != nil {
		logger.Warn("vector index rebuild failed", zap.Error(err))
	}
	logger.Info("vector index initialized", zap.String("backend", cfg.Storage.VectorBackend))

	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	c.Embedder = embedding.NewClient(provider, embedding.ClientConfig{
		Model:          cfg.Embedding.Model,
		Concurrency:    cfg.Embedding.Concurrency,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxAttempts:    cfg.Embedding.MaxAttempts,
		RetryBaseDelay: cfg.Embedding.RetryBaseDelay,
	}, embedding.WithCache(c.Cache.Embedding), embedding.WithLogger(logger), embedding.WithMetrics(c.Metrics))

	analyzer, err := keyword.NewAnalyzer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}
	c.Lexical = keyword.NewIndex(c.Store, analyzer, keyword.Config{
		K1:  cfg.Lexical.K1,
		B:   cfg.Lexical.B,
		TTL: cfg.Lexical.TTL,
	}, keyword.WithLogger(logger), keyword.WithMetrics(c.Metrics))

	blobs, err := indexer.NewFileStore(cfg.Storage.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	c.Pipeline, err = indexer.New(c.Store, c.Embedder, extract.NewExtractor(), cfg.Ingest,
		indexer.WithBlobStore(blobs),
		indexer.WithCache(c.Cache),
		indexer.WithLexical(c.Lexical),
		indexer.WithLogger(logger),
		indexer.WithMetrics(c.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	c.Engine, err = newEngine(cfg, c, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newCacheStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case "memory", "":
		return cache.NewMemoryStore(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: memory, redis)", cfg.Backend)
	}
}

func newEngine(cfg *config.Config, c *Components, logger *zap.Logger) (*search.Engine, error) {
	gen, err := generation.New(cfg.Generation)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	retriever := search.NewRetriever(c.Embedder, c.Store, c.Store.DB(),
		search.WithLexical(c.Lexical),
		search.WithWeights(cfg.Retrieval.VectorWeight, cfg.Retrieval.LexicalWeight),
		search.WithRetrieverLogger(logger))

	fallback := ranking.NewFallbackReranker(ranking.FallbackConfig{
		FusedWeight:      cfg.Rerank.FusedWeight,
		RecencyWeight:    cfg.Rerank.RecencyWeight,
		OverlapWeight:    cfg.Rerank.OverlapWeight,
		DiversityPenalty: cfg.Rerank.DiversityPenalty,
		RecencyHalfLife:  cfg.Rerank.RecencyHalfLife,
	})
	var primary ranking.Reranker = fallback
	if cfg.Rerank.Provider == "http" {
		h, err := ranking.NewHTTPReranker(cfg.Rerank.BaseURL, cfg.Rerank.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize reranker: %w", err)
		}
		primary = h
	}

	tier, err := models.ParseTier(cfg.Retrieval.DefaultTier)
	if err != nil {
		return nil, err
	}
	return search.NewEngine(retriever, search.NewSynthesizer(gen, logger), cfg.Tiers,
		search.WithCache(c.Cache),
		search.WithReranker(primary),
		search.WithFallbackReranker(fallback),
		search.WithProcessor(query.NewProcessor(query.Config{
			MaxWords:          cfg.Query.MaxWords,
			ShortWords:        cfg.Query.ShortWords,
			MaxExpansionTerms: cfg.Query.MaxExpansionTerms,
		})),
		search.WithDefaultTier(tier),
		search.WithTimeout(cfg.Server.QueryTimeout),
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics)), nil
}
