package keyword

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
)

// DefaultTTL is how long a snapshot is served before it is rebuilt.
const DefaultTTL = 30 * time.Minute

// ChunkSource yields every searchable chunk.
type ChunkSource interface {
	AllReadyChunks(ctx context.Context) iter.Seq2[*models.Chunk, error]
}

// Config holds BM25 parameters and the snapshot lifetime.
type Config struct {
	K1  float64
	B   float64
	TTL time.Duration
}

// Index serves BM25 scores from a snapshot of the chunk store. A snapshot is
// rebuilt once it is older than TTL or after Invalidate. Concurrent rebuilds
// collapse into one. While a rebuild runs readers keep using the previous
// snapshot; with no previous snapshot they wait for the rebuild.
type Index struct {
	source   ChunkSource
	analyzer *Analyzer
	cfg      Config

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	group      singleflight.Group
	refreshing atomic.Bool

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics records rebuilds on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Index) { i.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Index) { i.now = now }
}

// NewIndex returns an Index over source. No snapshot is built until first use.
func NewIndex(source ChunkSource, analyzer *Analyzer, cfg Config, opts ...Option) *Index {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultK1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = DefaultB
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	i := &Index{source: source, analyzer: analyzer, cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Terms analyzes a query into distinct terms.
func (i *Index) Terms(query string) []string {
	return i.analyzer.Unique(query)
}

// Score returns BM25 scores for the candidate chunk ids, normalized to [0,1]
// by the best candidate. Candidates without a lexical match are absent.
func (i *Index) Score(ctx context.Context, terms []string, candidates []string) (map[string]float64, error) {
	if len(terms) == 0 || len(candidates) == 0 {
		return map[string]float64{}, nil
	}
	snap, err := i.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	scores := snap.Score(terms, candidates, i.cfg.K1, i.cfg.B)
	var best float64
	for _, s := range scores {
		best = max(best, s)
	}
	if best > 0 {
		for id, s := range scores {
			scores[id] = s / best
		}
	}
	return scores, nil
}

// Invalidate marks the current snapshot stale. The next read triggers a rebuild.
func (i *Index) Invalidate() {
	i.generation.Add(1)
}

// Rebuild builds a fresh snapshot now and waits for it. A rebuild already in
// flight is joined rather than duplicated.
func (i *Index) Rebuild(ctx context.Context) (*Snapshot, error) {
	ch := i.group.DoChan("rebuild", func() (any, error) {
		return i.rebuild(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Current returns the snapshot in use, or nil before the first build.
func (i *Index) Current() *Snapshot {
	return i.current.Load()
}

func (i *Index) snapshot(ctx context.Context) (*Snapshot, error) {
	cur := i.current.Load()
	if cur != nil && !i.stale(cur) {
		return cur, nil
	}
	if cur == nil {
		return i.Rebuild(ctx)
	}
	if !i.refreshing.CompareAndSwap(false, true) {
		return cur, nil
	}
	go func() {
		defer i.refreshing.Store(false)
		if _, err := i.Rebuild(context.WithoutCancel(ctx)); err != nil {
			i.logger.Warn("background lexical rebuild failed", zap.Error(err))
		}
	}()
	return cur, nil
}

func (i *Index) stale(s *Snapshot) bool {
	return s.generation != i.generation.Load() || i.now().Sub(s.builtAt) > i.cfg.TTL
}

func (i *Index) rebuild(ctx context.Context) (*Snapshot, error) {
	gen := i.generation.Load()
	start := time.Now()
	snap, err := BuildSnapshot(ctx, i.analyzer, i.source.AllReadyChunks(ctx))
	elapsed := time.Since(start)
	i.metrics.RecordLexicalRebuild(elapsed, err == nil)
	if err != nil {
		return nil, fmt.Errorf("build lexical snapshot: %w", err)
	}
	snap.builtAt = i.now()
	snap.generation = gen
	i.current.Store(snap)
	i.logger.Info("lexical snapshot rebuilt",
		zap.Int("chunks", snap.Len()),
		zap.Int("terms", len(snap.df)),
		zap.Duration("elapsed", elapsed))
	return snap, nil
}
