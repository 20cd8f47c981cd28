package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate reports inconsistent settings. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Ingest.ChunkSize <= 0 {
		add("ingest.chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		add("ingest.chunk_overlap (%d) must be in [0, chunk_size)", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Workers <= 0 {
		add("ingest.workers must be positive")
	}
	if c.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive")
	}
	if c.Embedding.Concurrency <= 0 {
		add("embedding.concurrency must be positive")
	}

	switch c.Storage.VectorBackend {
	case "memory", "chromem", "qdrant":
	default:
		add("unknown storage.vector_backend %q", c.Storage.VectorBackend)
	}
	switch c.Embedding.Provider {
	case "tei", "openai", "langchain", "mock":
	default:
		add("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.Generation.Provider {
	case "openai", "langchain", "extractive":
	default:
		add("unknown generation.provider %q", c.Generation.Provider)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		add("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Rerank.Provider {
	case "fallback", "http":
	default:
		add("unknown rerank.provider %q", c.Rerank.Provider)
	}

	if c.Retrieval.VectorWeight < 0 || c.Retrieval.LexicalWeight < 0 ||
		math.Abs(c.Retrieval.VectorWeight+c.Retrieval.LexicalWeight-1) > 1e-6 {
		add("retrieval weights must be non-negative and sum to 1 (got %.3f + %.3f)",
			c.Retrieval.VectorWeight, c.Retrieval.LexicalWeight)
	}
	if _, err := models.ParseTier(c.Retrieval.DefaultTier); err != nil {
		add("retrieval.default_tier: %v", err)
	}
	if c.Lexical.K1 < 0 || c.Lexical.B < 0 || c.Lexical.B > 1 {
		add("lexical.k1 must be >= 0 and lexical.b in [0,1]")
	}
	if c.Rerank.DiversityPenalty <= 0 || c.Rerank.DiversityPenalty > 1 {
		add("rerank.diversity_penalty must be in (0,1]")
	}

	for _, t := range models.Tiers {
		tc, _ := c.Tiers.Get(t)
		if err := tc.validate(string(t)); err != nil {
			add("%v", err)
		}
	}

	return errors.Join(errs...)
}
