package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retry"
)

var tracer = otel.Tracer("kotae.indexer")

var errNoText = errors.New("no extractable text")

// stageError ends a document in the failed state without retry.
type stageError struct {
	reason models.FailureReason
	err    error
}

func (e *stageError) Error() string { return string(e.reason) + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failStage(reason models.FailureReason, err error) error {
	return &stageError{reason: reason, err: err}
}

// Advance runs the current stage of a document once. Terminal documents are
// left untouched, so calling Advance again after completion is a no-op.
// Stage failures are recorded on the document, not returned.
func (p *Pipeline) Advance(ctx context.Context, id string) error {
	_, err := p.advance(ctx, id)
	return err
}

func (p *Pipeline) advance(ctx context.Context, id string) (*models.Document, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Advance", trace.WithAttributes(attribute.String("document_id", id)))
	defer span.End()

	unlock := p.locks.Lock(id)
	defer unlock()

	doc, err := p.store.DB().GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.State.Terminal() {
		return doc, nil
	}
	span.SetAttributes(attribute.String("state", string(doc.State)))

	work := *doc
	work.Metadata = maps.Clone(doc.Metadata)
	err = p.runStage(ctx, &work)
	if err == nil {
		if work.State != doc.State {
			p.metrics.RecordTransition(string(doc.State), string(work.State))
			p.logger.Info("document advanced",
				zap.String("document_id", id),
				zap.String("from", string(doc.State)),
				zap.String("to", string(work.State)))
		}
		return &work, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ctx.Err() != nil {
		return doc, ctx.Err()
	}

	var se *stageError
	switch {
	case errors.As(err, &se):
		err = p.fail(ctx, doc, se.reason, se.err)
	case retry.IsRetryable(err):
		err = p.retryLater(ctx, doc, err)
	default:
		err = p.fail(ctx, doc, models.FailureInfrastructure, err)
	}
	return doc, err
}

func (p *Pipeline) runStage(ctx context.Context, doc *models.Document) error {
	switch doc.State {
	case models.StatePending:
		doc.State = models.StateMetadataExtracting
		doc.StageStartedAt = p.now()
		return p.store.DB().UpdateDocument(ctx, doc)
	case models.StateMetadataExtracting:
		return p.extractMetadata(ctx, doc)
	case models.StateChunking:
		return p.chunk(ctx, doc)
	case models.StateEmbedding:
		return p.embed(ctx, doc)
	default:
		return failStage(models.FailureValidation, fmt.Errorf("unknown state %q", doc.State))
	}
}

func (p *Pipeline) extractMetadata(ctx context.Context, doc *models.Document) error {
	res, err := p.extract(ctx, doc)
	if err != nil {
		return err
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]interface{}, len(res.Metadata)+1)
	}
	maps.Copy(doc.Metadata, res.Metadata)
	if _, ok := doc.Metadata["title"]; !ok {
		doc.Metadata["title"] = strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name))
	}
	doc.MetadataExtracted = true
	p.finishStage(doc, models.StateChunking)
	return p.store.DB().UpdateDocument(ctx, doc)
}

func (p *Pipeline) chunk(ctx context.Context, doc *models.Document) error {
	res, err := p.extract(ctx, doc)
	if err != nil {
		return err
	}
	segments, err := Collect(p.chunker.Chunks(res.Pages))
	if errors.Is(err, ErrTooManyChunks) {
		return failStage(models.FailureTooManyChunks, err)
	}
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return failStage(models.FailureValidation, errors.New("no chunks produced"))
	}

	chunks := make([]*models.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = &models.Chunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, seg.Index),
			DocumentID: doc.ID,
			Index:      seg.Index,
			PageNumber: seg.PageNumber,
			Content:    seg.Text,
		}
	}
	doc.ChunksCreated = true
	doc.ChunkCount = len(chunks)
	doc.Embedded = false
	doc.EmbeddingCount = 0
	p.finishStage(doc, models.StateEmbedding)
	if err := p.store.PutChunks(ctx, doc, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}

func (p *Pipeline) embed(ctx context.Context, doc *models.Document) error {
	if !doc.Embedded {
		chunks, err := p.store.GetChunksByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(chunks) != doc.ChunkCount {
			return failStage(models.FailureValidation,
				fmt.Errorf("found %d chunks, expected %d", len(chunks), doc.ChunkCount))
		}
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Content
		}
		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, embedding.ErrDimensionMismatch) {
				return failStage(models.FailureValidation, err)
			}
			return fmt.Errorf("embed chunks: %w", err)
		}
		embeddings := make(map[string][]float32, len(chunks))
		for i, ch := range chunks {
			embeddings[ch.ID] = vecs[i]
		}
		doc.Embedded = true
		doc.EmbeddingCount = len(embeddings)
		doc.Error = ""
		if err := p.store.DB().SetEmbeddings(ctx, doc, embeddings); err != nil {
			return fmt.Errorf("store embeddings: %w", err)
		}
	}

	if !doc.ReadyForSearch() {
		return failStage(models.FailureValidation, fmt.Errorf(
			"readiness check failed: chunks=%d embeddings=%d", doc.ChunkCount, doc.EmbeddingCount))
	}
	// Vectors go to the index before the document turns ready; searches join
	// on readiness so early vectors are never returned.
	n, err := p.store.Publish(ctx, doc.ID)
	if err != nil {
		return err
	}
	p.finishStage(doc, models.StateReady)
	if err := p.store.DB().UpdateDocument(ctx, doc); err != nil {
		return err
	}
	p.logger.Info("document ready",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", doc.ChunkCount),
		zap.Int("vectors", n))
	p.invalidate(ctx)
	return nil
}

// finishStage moves doc to next and clears retry bookkeeping of the previous
// stage, so every stage gets its own attempt budget.
func (p *Pipeline) finishStage(doc *models.Document, next models.State) {
	now := p.now()
	doc.StageFinishedAt = now
	if !next.Terminal() {
		doc.StageStartedAt = now
	}
	doc.State = next
	doc.Error = ""
	doc.Retries = 0
	doc.NextAttemptAt = time.Time{}
}

// extract reads the document blob and extracts its pages. Missing blobs and
// unparseable or empty content are extraction failures.
func (p *Pipeline) extract(ctx context.Context, doc *models.Document) (*extract.Result, error) {
	var (
		r   io.ReadCloser
		err error
	)
	if p.blobs != nil {
		r, err = p.blobs.Open(ctx, doc.Locator)
	} else {
		r, err = os.Open(doc.Locator)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, failStage(models.FailureExtraction, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	content, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	res, err := p.extractor.ExtractBytes(content, filepath.Ext(doc.Name))
	if err != nil {
		return nil, failStage(models.FailureExtraction, err)
	}
	if res.Empty() {
		return nil, failStage(models.FailureExtraction, errNoText)
	}
	return res, nil
}

func (p *Pipeline) fail(ctx context.Context, doc *models.Document, reason models.FailureReason, cause error) error {
	from := doc.State
	doc.State = models.StateFailed
	doc.FailureReason = reason
	doc.Error = cause.Error()
	doc.StageFinishedAt = p.now()
	doc.NextAttemptAt = time.Time{}
	if err := p.store.DB().UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	p.metrics.RecordTransition(string(from), string(models.StateFailed))
	p.metrics.RecordFailure(string(reason))
	p.logger.Error("document failed",
		zap.String("document_id", doc.ID),
		zap.String("stage", string(from)),
		zap.String("reason", string(reason)),
		zap.Error(cause))
	return nil
}

// retryLater reschedules the current stage. Retries counts the failed attempts
// of that stage; the stage fails once they reach MaxRetries.
func (p *Pipeline) retryLater(ctx context.Context, doc *models.Document, cause error) error {
	doc.Retries++
	if doc.Retries >= p.cfg.MaxRetries {
		return p.fail(ctx, doc, models.FailureInfrastructure,
			fmt.Errorf("giving up after %d attempts: %w", doc.Retries, cause))
	}
	delay := retry.Backoff(doc.Retries, p.cfg.RetryBaseDelay)
	doc.NextAttemptAt = p.now().Add(delay)
	doc.Error = cause.Error()
	if err := p.store.DB().UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("record retry: %w", err)
	}
	p.metrics.RecordRetry()
	p.logger.Warn("stage failed, will retry",
		zap.String("document_id", doc.ID),
		zap.String("stage", string(doc.State)),
		zap.Int("retries", doc.Retries),
		zap.Duration("delay", delay),
		zap.Error(cause))
	return nil
}
