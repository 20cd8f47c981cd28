// Package config provides configuration loading and structs for the kotae server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Cache      CacheConfig      `yaml:"cache"`
	Lexical    LexicalConfig    `yaml:"lexical"`
	Query      QueryConfig      `yaml:"query"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Tiers      TiersConfig      `yaml:"tiers"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WatchConfig holds inbox directory watch settings. Files dropped into these
// directories are submitted for ingestion.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	// Uploader is recorded as the provenance of watched submissions.
	Uploader string `yaml:"uploader"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// QueryTimeout bounds a single search request end to end.
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StorageConfig holds paths for the database, uploaded blobs, and the vector backend.
type StorageConfig struct {
	DatabasePath    string       `yaml:"database_path"`
	BlobDir         string       `yaml:"blob_dir"`
	VectorBackend   string       `yaml:"vector_backend"`
	VectorIndexPath string       `yaml:"vector_index_path"`
	Qdrant          QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds connection settings for the qdrant vector backend.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	UseTLS     bool   `yaml:"use_tls"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	// Provider is one of tei, openai, langchain, mock.
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	Timeout           time.Duration `yaml:"timeout"`
	Concurrency       int           `yaml:"concurrency"`
	BatchSize         int           `yaml:"batch_size"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// GenerationConfig holds answer generation service settings.
type GenerationConfig struct {
	// Provider is one of openai, langchain, extractive.
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers      int `yaml:"workers"`
	QueueSize    int `yaml:"queue_size"`
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MaxChunks    int `yaml:"max_chunks"`
	// MaxRetries is the number of attempts a stage gets before the document fails.
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// RecoverInterval is how often documents left mid-pipeline are re-enqueued.
	RecoverInterval time.Duration `yaml:"recover_interval"`
}

// CacheConfig holds cache layer settings.
type CacheConfig struct {
	// Backend is memory or redis.
	Backend      string        `yaml:"backend"`
	MaxEntries   int           `yaml:"max_entries"`
	EmbeddingTTL time.Duration `yaml:"embedding_ttl"`
	SearchTTL    time.Duration `yaml:"search_ttl"`
	AnswerTTL    time.Duration `yaml:"answer_ttl"`
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig holds redis connection settings for the cache backend.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LexicalConfig holds BM25 parameters and the snapshot lifetime.
type LexicalConfig struct {
	K1  float64       `yaml:"k1"`
	B   float64       `yaml:"b"`
	TTL time.Duration `yaml:"ttl"`
}

// QueryConfig holds query expansion thresholds.
type QueryConfig struct {
	MaxWords          int `yaml:"max_words"`
	ShortWords        int `yaml:"short_words"`
	MaxExpansionTerms int `yaml:"max_expansion_terms"`
}

// RetrievalConfig holds fusion weights and the default tier.
type RetrievalConfig struct {
	VectorWeight  float64 `yaml:"vector_weight"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	DefaultTier   string  `yaml:"default_tier"`
}

// RerankConfig holds re-ranker settings.
type RerankConfig struct {
	// Provider is fallback or http.
	Provider         string        `yaml:"provider"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	FusedWeight      float64       `yaml:"fused_weight"`
	RecencyWeight    float64       `yaml:"recency_weight"`
	OverlapWeight    float64       `yaml:"overlap_weight"`
	DiversityPenalty float64       `yaml:"diversity_penalty"`
	RecencyHalfLife  time.Duration `yaml:"recency_half_life"`
}

// Load reads and parses the config file at path, expands ${VAR} references and
// paths, and applies defaults. A .env file next to the config is loaded first when
// present. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BlobDir = expandPath(cfg.Storage.BlobDir, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
