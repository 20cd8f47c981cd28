package vector

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Backend names the vector index implementation.
type Backend string

const (
	// BackendMemory uses in-memory brute-force search with a snapshot file. Good for small corpora.
	BackendMemory Backend = "memory"
	// BackendChromem uses an embedded persistent chromem-go database.
	BackendChromem Backend = "chromem"
	// BackendQdrant uses a remote qdrant server over gRPC.
	BackendQdrant Backend = "qdrant"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	Dimensions int
	// Path is the snapshot file (memory) or database directory (chromem).
	Path   string
	Qdrant QdrantOptions
	Logger *zap.Logger
}

// Loader is implemented by backends that restore a local snapshot on open.
type Loader interface {
	Load() error
}

// New creates a vector index for cfg.Backend. Empty defaults to memory.
// The memory backend restores its snapshot before returning.
func New(ctx context.Context, cfg Config) (Index, error) {
	switch Backend(cfg.Backend) {
	case BackendMemory, "":
		idx, err := NewMemoryIndex(cfg.Dimensions, cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(); err != nil {
			return nil, fmt.Errorf("load vector snapshot: %w", err)
		}
		return idx, nil
	case BackendChromem:
		dir := cfg.Path
		if filepath.Ext(dir) != "" {
			dir = filepath.Join(filepath.Dir(dir), "chromem")
		}
		return NewChromemIndex(dir, cfg.Dimensions, cfg.Logger)
	case BackendQdrant:
		opts := cfg.Qdrant
		opts.Dimensions = cfg.Dimensions
		return NewQdrantIndex(ctx, opts, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, chromem, qdrant)", cfg.Backend)
	}
}
