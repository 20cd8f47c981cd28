package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.QueryTimeout == 0 {
		cfg.Server.QueryTimeout = 30 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotae/data/db/documents.db"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "/usr/local/var/kotae/data/blobs"
	}
	if cfg.Storage.VectorBackend == "" {
		cfg.Storage.VectorBackend = "memory"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/kotae/data/indices/vectors"
	}
	if cfg.Storage.Qdrant.Host == "" {
		cfg.Storage.Qdrant.Host = "localhost"
	}
	if cfg.Storage.Qdrant.Port == 0 {
		cfg.Storage.Qdrant.Port = 6334
	}
	if cfg.Storage.Qdrant.Collection == "" {
		cfg.Storage.Qdrant.Collection = "kotae_chunks"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "tei"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8088"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 8
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 16
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.RetryBaseDelay == 0 {
		cfg.Embedding.RetryBaseDelay = 200 * time.Millisecond
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "extractive"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 512
	}
	if cfg.Generation.MaxAttempts == 0 {
		cfg.Generation.MaxAttempts = 3
	}
	if cfg.Generation.RetryBaseDelay == 0 {
		cfg.Generation.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Generation.RequestsPerSecond == 0 {
		cfg.Generation.RequestsPerSecond = 2
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 256
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.MaxChunks == 0 {
		cfg.Ingest.MaxChunks = 5000
	}
	if cfg.Ingest.MaxRetries == 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Ingest.RetryBaseDelay == 0 {
		cfg.Ingest.RetryBaseDelay = 2 * time.Second
	}
	if cfg.Ingest.RecoverInterval == 0 {
		cfg.Ingest.RecoverInterval = time.Minute
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.EmbeddingTTL == 0 {
		cfg.Cache.EmbeddingTTL = 7 * 24 * time.Hour
	}
	if cfg.Cache.SearchTTL == 0 {
		cfg.Cache.SearchTTL = 10 * time.Minute
	}
	if cfg.Cache.AnswerTTL == 0 {
		cfg.Cache.AnswerTTL = time.Hour
	}
	if cfg.Cache.Redis.Address == "" {
		cfg.Cache.Redis.Address = "localhost:6379"
	}
	if cfg.Cache.Redis.KeyPrefix == "" {
		cfg.Cache.Redis.KeyPrefix = "kotae"
	}

	if cfg.Lexical.K1 == 0 {
		cfg.Lexical.K1 = 1.2
	}
	if cfg.Lexical.B == 0 {
		cfg.Lexical.B = 0.75
	}
	if cfg.Lexical.TTL == 0 {
		cfg.Lexical.TTL = 30 * time.Minute
	}

	if cfg.Query.MaxWords == 0 {
		cfg.Query.MaxWords = 8
	}
	if cfg.Query.ShortWords == 0 {
		cfg.Query.ShortWords = 3
	}
	if cfg.Query.MaxExpansionTerms == 0 {
		cfg.Query.MaxExpansionTerms = 4
	}

	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.LexicalWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.7
		cfg.Retrieval.LexicalWeight = 0.3
	}
	if cfg.Retrieval.DefaultTier == "" {
		cfg.Retrieval.DefaultTier = "advanced"
	}

	if cfg.Rerank.Provider == "" {
		cfg.Rerank.Provider = "fallback"
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 5 * time.Second
	}
	if cfg.Rerank.FusedWeight == 0 && cfg.Rerank.RecencyWeight == 0 && cfg.Rerank.OverlapWeight == 0 {
		cfg.Rerank.FusedWeight = 0.8
		cfg.Rerank.RecencyWeight = 0.1
		cfg.Rerank.OverlapWeight = 0.1
	}
	if cfg.Rerank.DiversityPenalty == 0 {
		cfg.Rerank.DiversityPenalty = 0.85
	}
	if cfg.Rerank.RecencyHalfLife == 0 {
		cfg.Rerank.RecencyHalfLife = 90 * 24 * time.Hour
	}

	defaults := DefaultTiers()
	if cfg.Tiers.Basic.unset() {
		cfg.Tiers.Basic = defaults.Basic
	}
	if cfg.Tiers.Improved.unset() {
		cfg.Tiers.Improved = defaults.Improved
	}
	if cfg.Tiers.Advanced.unset() {
		cfg.Tiers.Advanced = defaults.Advanced
	}
	if cfg.Tiers.Comprehensive.unset() {
		cfg.Tiers.Comprehensive = defaults.Comprehensive
	}
	for _, t := range []*TierConfig{&cfg.Tiers.Basic, &cfg.Tiers.Improved, &cfg.Tiers.Advanced, &cfg.Tiers.Comprehensive} {
		if t.RerankWidth == 0 {
			t.RerankWidth = t.Candidates
		}
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Watch.Uploader == "" {
		cfg.Watch.Uploader = "inbox"
	}
}
