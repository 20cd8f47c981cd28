// Package cache provides the namespaced, TTL-bounded caches for embeddings,
// search results, and generated answers.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/metrics"
)

// ErrEmptyValue is returned when asked to cache an empty value. Empty and failed
// computations are never cached so a retry always recomputes.
var ErrEmptyValue = errors.New("cache: refusing to store empty value")

// Namespace names.
const (
	NamespaceEmbedding = "embedding"
	NamespaceSearch    = "search"
	NamespaceAnswer    = "answer"
)

// Store is a byte-oriented key/value backend with per-entry expiry.
// Get never returns an entry past its TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Namespace is one independently aged partition of a Store.
type Namespace struct {
	name    string
	ttl     time.Duration
	store   Store
	metrics *metrics.Metrics
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// TTL returns the entry lifetime. A zero TTL disables writes.
func (n *Namespace) TTL() time.Duration { return n.ttl }

func (n *Namespace) key(k string) string { return n.name + ":" + k }

// Get returns the value for k.
func (n *Namespace) Get(ctx context.Context, k string) ([]byte, bool, error) {
	v, ok, err := n.store.Get(ctx, n.key(k))
	if err != nil {
		return nil, false, err
	}
	n.metrics.RecordCacheLookup(n.name, ok)
	return v, ok, nil
}

// Set stores v under k for the namespace TTL. Empty values are rejected.
func (n *Namespace) Set(ctx context.Context, k string, v []byte) error {
	if len(v) == 0 {
		return ErrEmptyValue
	}
	if n.ttl <= 0 {
		return nil
	}
	return n.store.Set(ctx, n.key(k), v, n.ttl)
}

// Delete removes k.
func (n *Namespace) Delete(ctx context.Context, k string) error {
	return n.store.Delete(ctx, n.key(k))
}

// Clear removes every entry in the namespace.
func (n *Namespace) Clear(ctx context.Context) error {
	return n.store.DeletePrefix(ctx, n.name+":")
}

// GetJSON decodes the value for k into target.
func (n *Namespace) GetJSON(ctx context.Context, k string, target any) (bool, error) {
	v, ok, err := n.Get(ctx, k)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(v, target); err != nil {
		return false, fmt.Errorf("decode cached %s entry: %w", n.name, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under k. Values that encode to null or an
// empty string, array, or object are rejected with ErrEmptyValue.
func (n *Namespace) SetJSON(ctx context.Context, k string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", n.name, err)
	}
	if isEmptyJSON(b) {
		return ErrEmptyValue
	}
	return n.Set(ctx, k, b)
}

func isEmptyJSON(b []byte) bool {
	switch string(bytes.TrimSpace(b)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

// TTLs configures the lifetime of each namespace.
type TTLs struct {
	Embedding time.Duration
	Search    time.Duration
	Answer    time.Duration
}

// Layer owns the three cache namespaces over one Store.
type Layer struct {
	Embedding *Namespace
	Search    *Namespace
	Answer    *Namespace

	store  Store
	logger *zap.Logger
}

// Option configures a Layer.
type Option func(*layerOptions)

type layerOptions struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *layerOptions) { o.logger = l }
}

// WithMetrics records lookups on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *layerOptions) { o.metrics = m }
}

// NewLayer creates the namespaces over store.
func NewLayer(store Store, ttls TTLs, opts ...Option) *Layer {
	o := layerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	ns := func(name string, ttl time.Duration) *Namespace {
		return &Namespace{name: name, ttl: ttl, store: store, metrics: o.metrics}
	}
	return &Layer{
		Embedding: ns(NamespaceEmbedding, ttls.Embedding),
		Search:    ns(NamespaceSearch, ttls.Search),
		Answer:    ns(NamespaceAnswer, ttls.Answer),
		store:     store,
		logger:    o.logger,
	}
}

// InvalidateQueries drops cached search results and answers. Called whenever
// the set of searchable documents changes. Embeddings are content-addressed and kept.
func (l *Layer) InvalidateQueries(ctx context.Context) error {
	errSearch := l.Search.Clear(ctx)
	errAnswer := l.Answer.Clear(ctx)
	if err := errors.Join(errSearch, errAnswer); err != nil {
		l.logger.Warn("failed to invalidate query caches", zap.Error(err))
		return err
	}
	l.logger.Debug("query caches invalidated")
	return nil
}

// Close closes the underlying store.
func (l *Layer) Close() error {
	return l.store.Close()
}
