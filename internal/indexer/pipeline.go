// Package indexer runs the ingestion pipeline: submitted files move through
// extraction, chunking, and embedding until they are ready for search or failed.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/cache"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

var (
	// ErrInvalidFile is returned by Submit for references without a name or content.
	ErrInvalidFile = errors.New("indexer: invalid file reference")
	// ErrClosed is returned when submitting to a pipeline that has shut down.
	ErrClosed = errors.New("indexer: pipeline closed")
)

// Embedder is the part of the embedding client the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Invalidator is notified when the set of searchable documents changes.
type Invalidator interface {
	Invalidate()
}

// SubmitResult is the outcome of one submission.
type SubmitResult struct {
	DocumentID string       `json:"document_id"`
	Duplicate  bool         `json:"duplicate"`
	State      models.State `json:"state"`
}

// Bulk outcome statuses.
const (
	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// BulkOutcome is the per-file result of SubmitBulk.
type BulkOutcome struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Pipeline owns the ingestion state machine and its worker pool.
type Pipeline struct {
	store     *storage.ChunkStore
	embedder  Embedder
	extractor *extract.Extractor
	chunker   *Chunker
	blobs     BlobStore
	cfg       config.IngestConfig

	cache   *cache.Layer
	lexical Invalidator
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	locks *keyedMutex
	queue chan string

	mu     sync.Mutex
	queued map[string]struct{}
	timers map[string]*time.Timer
	closed bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records transitions, failures, and queue depth on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCache makes the pipeline clear query caches when searchable content changes.
func WithCache(l *cache.Layer) Option {
	return func(p *Pipeline) { p.cache = l }
}

// WithLexical makes the pipeline mark the lexical snapshot stale when searchable content changes.
func WithLexical(inv Invalidator) Option {
	return func(p *Pipeline) { p.lexical = inv }
}

// WithBlobStore sets where submitted content without a locator is stored.
func WithBlobStore(b BlobStore) Option {
	return func(p *Pipeline) { p.blobs = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline. Nothing is processed until Run is called, except
// through Advance.
func New(store *storage.ChunkStore, embedder Embedder, extractor *extract.Extractor, cfg config.IngestConfig, opts ...Option) (*Pipeline, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxChunks)
	if err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	p := &Pipeline{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		chunker:   chunker,
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
		locks:     newKeyedMutex(),
		queue:     make(chan string, max(cfg.QueueSize, 1)),
		queued:    make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Submit persists a pending document for ref and enqueues it. Byte-identical
// content maps to the existing document: a reference is added and nothing is
// reprocessed. That document may be in any state, including failed; a failed
// document is only retried by deleting it and submitting the content again.
func (p *Pipeline) Submit(ctx context.Context, ref models.FileRef) (SubmitResult, error) {
	if strings.TrimSpace(ref.Name) == "" || (ref.Open == nil && ref.Locator == "") {
		return SubmitResult{}, ErrInvalidFile
	}
	if p.isClosed() {
		return SubmitResult{}, ErrClosed
	}
	db := p.store.DB()

	if ref.ContentHash == "" {
		if ref.Open == nil {
			return SubmitResult{}, fmt.Errorf("%w: missing content hash", ErrInvalidFile)
		}
		r, err := ref.Open(ctx)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("open %s: %w", ref.Name, err)
		}
		ref.ContentHash, ref.Size, err = fileid.HashReader(r)
		r.Close()
		if err != nil {
			return SubmitResult{}, err
		}
	}

	if existing, err := db.GetDocumentByHash(ctx, ref.ContentHash); err == nil {
		return p.addDuplicate(ctx, existing, ref)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return SubmitResult{}, err
	}

	locator := ref.Locator
	if locator == "" {
		if p.blobs == nil || ref.Open == nil {
			return SubmitResult{}, fmt.Errorf("%w: no locator and no blob store", ErrInvalidFile)
		}
		r, err := ref.Open(ctx)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("open %s: %w", ref.Name, err)
		}
		locator, err = p.blobs.Put(ctx, ref.ContentHash, r)
		r.Close()
		if err != nil {
			return SubmitResult{}, fmt.Errorf("store blob: %w", err)
		}
	}

	doc := &models.Document{
		ID:          uuid.New().String(),
		ContentHash: ref.ContentHash,
		Name:        ref.Name,
		Size:        ref.Size,
		Locator:     locator,
		State:       models.StatePending,
	}
	if err := db.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrDuplicateHash) {
			// lost a race with a concurrent identical upload
			existing, getErr := db.GetDocumentByHash(ctx, ref.ContentHash)
			if getErr != nil {
				return SubmitResult{}, getErr
			}
			return p.addDuplicate(ctx, existing, ref)
		}
		return SubmitResult{}, fmt.Errorf("create document: %w", err)
	}
	if err := p.addReference(ctx, doc.ID, ref); err != nil {
		return SubmitResult{}, err
	}

	p.logger.Info("document submitted",
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int64("size", doc.Size))
	p.metrics.RecordTransition("", string(models.StatePending))
	p.enqueue(doc.ID)
	return SubmitResult{DocumentID: doc.ID, State: doc.State}, nil
}

func (p *Pipeline) addDuplicate(ctx context.Context, existing *models.Document, ref models.FileRef) (SubmitResult, error) {
	if err := p.addReference(ctx, existing.ID, ref); err != nil {
		return SubmitResult{}, err
	}
	p.logger.Info("duplicate upload",
		zap.String("document_id", existing.ID),
		zap.String("name", ref.Name),
		zap.String("state", string(existing.State)))
	return SubmitResult{DocumentID: existing.ID, Duplicate: true, State: existing.State}, nil
}

func (p *Pipeline) addReference(ctx context.Context, docID string, ref models.FileRef) error {
	err := p.store.DB().AddReference(ctx, &models.Reference{
		ID:         uuid.New().String(),
		DocumentID: docID,
		Name:       ref.Name,
		UploadedBy: ref.UploadedBy,
	})
	if err != nil {
		return fmt.Errorf("add reference: %w", err)
	}
	return nil
}

// SubmitBulk submits every ref and reports each outcome. One failure does not
// stop the others.
func (p *Pipeline) SubmitBulk(ctx context.Context, refs []models.FileRef) []BulkOutcome {
	out := make([]BulkOutcome, len(refs))
	for i, ref := range refs {
		out[i].Name = ref.Name
		res, err := p.Submit(ctx, ref)
		switch {
		case err != nil:
			out[i].Status = OutcomeError
			out[i].Error = err.Error()
		case res.Duplicate:
			out[i].Status = OutcomeDuplicate
			out[i].DocumentID = res.DocumentID
		default:
			out[i].Status = OutcomeSuccess
			out[i].DocumentID = res.DocumentID
		}
	}
	return out
}

// SubmitPath submits the regular file at path. If allowedExts is non-empty, the
// extension must be in the list (case-insensitive).
func (p *Pipeline) SubmitPath(ctx context.Context, path string, allowedExts []string, uploadedBy string) (SubmitResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return SubmitResult{}, fmt.Errorf("%w: extension %q not in allowed list", ErrInvalidFile, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return SubmitResult{}, fmt.Errorf("%w: not a regular file: %s", ErrInvalidFile, path)
	}
	ref, err := fileid.FromPath(path, uploadedBy)
	if err != nil {
		return SubmitResult{}, err
	}
	return p.Submit(ctx, ref)
}

// SubmitDirectory walks dir recursively and submits each regular file whose
// extension is allowed. It returns the outcome per file.
func (p *Pipeline) SubmitDirectory(ctx context.Context, dir string, allowedExts []string, uploadedBy string) ([]BulkOutcome, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var out []BulkOutcome
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so we only submit regular files
		if finfo, statErr := os.Stat(path); statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		o := BulkOutcome{Name: filepath.Base(path)}
		res, err := p.SubmitPath(ctx, path, nil, uploadedBy)
		switch {
		case err != nil:
			o.Status, o.Error = OutcomeError, err.Error()
		case res.Duplicate:
			o.Status, o.DocumentID = OutcomeDuplicate, res.DocumentID
		default:
			o.Status, o.DocumentID = OutcomeSuccess, res.DocumentID
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Status returns the processing status of a document.
func (p *Pipeline) Status(ctx context.Context, id string) (models.DocumentStatus, error) {
	doc, err := p.store.DB().GetDocument(ctx, id)
	if err != nil {
		return models.DocumentStatus{}, err
	}
	refs, err := p.store.DB().CountReferences(ctx, id)
	if err != nil {
		return models.DocumentStatus{}, err
	}
	return models.StatusOf(doc, refs), nil
}

// List returns document statuses, optionally filtered by state.
func (p *Pipeline) List(ctx context.Context, state models.State, offset, limit int) ([]models.DocumentStatus, error) {
	docs, err := p.store.DB().ListDocuments(ctx, state, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.DocumentStatus, 0, len(docs))
	for _, doc := range docs {
		refs, err := p.store.DB().CountReferences(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.StatusOf(doc, refs))
	}
	return out, nil
}

// Delete removes a document with its chunks, references, vectors, and blob.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	unlock := p.locks.Lock(id)
	defer unlock()

	doc, err := p.store.DB().GetDocument(ctx, id)
	if err != nil {
		return err
	}
	p.cancelTimer(id)
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if p.blobs != nil {
		if err := p.blobs.Remove(ctx, doc.Locator); err != nil {
			p.logger.Warn("failed to remove blob", zap.String("document_id", id), zap.Error(err))
		}
	}
	p.logger.Info("document deleted", zap.String("document_id", id), zap.String("state", string(doc.State)))
	if doc.State == models.StateReady {
		p.invalidate(ctx)
	}
	return nil
}

// Run starts the worker pool and the periodic recovery loop, and blocks until
// ctx is cancelled. Documents left mid-pipeline are re-enqueued first.
func (p *Pipeline) Run(ctx context.Context) error {
	workers := max(p.cfg.Workers, 1)
	p.logger.Info("ingestion pipeline starting", zap.Int("workers", workers))

	if _, err := p.Recover(ctx); err != nil {
		p.logger.Warn("recovery failed", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	if p.cfg.RecoverInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(p.cfg.RecoverInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := p.Recover(ctx); err != nil && ctx.Err() == nil {
						p.logger.Warn("recovery failed", zap.Error(err))
					}
				}
			}
		})
	}
	err := g.Wait()
	p.shutdown()
	p.logger.Info("ingestion pipeline stopped")
	return err
}

// Recover enqueues every non-terminal document whose next attempt is due.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	docs, err := p.store.DB().ListDue(ctx, p.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		if p.enqueue(doc.ID) {
			n++
		}
	}
	if n > 0 {
		p.logger.Info("recovered documents", zap.Int("count", n))
	}
	return n, nil
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.mu.Lock()
			delete(p.queued, id)
			p.mu.Unlock()
			p.metrics.SetQueueDepth(len(p.queue))
			p.process(ctx, id)
		}
	}
}

// process advances id until it is terminal or waiting for a retry.
func (p *Pipeline) process(ctx context.Context, id string) {
	for ctx.Err() == nil {
		doc, err := p.advance(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) && ctx.Err() == nil {
				p.logger.Error("advance failed", zap.String("document_id", id), zap.Error(err))
			}
			return
		}
		if doc.State.Terminal() {
			return
		}
		if wait := doc.NextAttemptAt.Sub(p.now()); !doc.NextAttemptAt.IsZero() && wait > 0 {
			p.schedule(id, wait)
			return
		}
	}
}

// enqueue adds id to the queue unless it is already queued. A full queue drops
// the id; the recovery loop picks it up later.
func (p *Pipeline) enqueue(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.queued[id]; ok {
		return false
	}
	select {
	case p.queue <- id:
		p.queued[id] = struct{}{}
		p.metrics.SetQueueDepth(len(p.queue))
		return true
	default:
		p.logger.Warn("ingest queue full", zap.String("document_id", id), zap.Int("capacity", cap(p.queue)))
		return false
	}
}

func (p *Pipeline) schedule(id string, after time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if t, ok := p.timers[id]; ok {
		t.Stop()
	}
	p.timers[id] = time.AfterFunc(after, func() {
		p.mu.Lock()
		delete(p.timers, id)
		p.mu.Unlock()
		p.enqueue(id)
	})
	p.logger.Debug("document rescheduled", zap.String("document_id", id), zap.Duration("after", after))
}

func (p *Pipeline) cancelTimer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *Pipeline) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// invalidate drops query caches and the lexical snapshot.
func (p *Pipeline) invalidate(ctx context.Context) {
	if p.cache != nil {
		_ = p.cache.InvalidateQueries(ctx)
	}
	if p.lexical != nil {
		p.lexical.Invalidate()
	}
}
