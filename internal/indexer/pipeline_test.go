package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/cache"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

const testDims = 8

type fixture struct {
	p     *Pipeline
	store *storage.ChunkStore
	mock  *embedding.MockEmbedder
	blobs *FileStore
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		Workers:        2,
		QueueSize:      16,
		ChunkSize:      100,
		ChunkOverlap:   10,
		MaxChunks:      50,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	}
}

func newFixture(t *testing.T, cfg config.IngestConfig, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, "kotae.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vector.NewMemoryIndex(testDims, "")
	if err != nil {
		t.Fatal(err)
	}
	store := storage.NewChunkStore(db, idx)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := NewFileStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	mock := embedding.NewMockEmbedder(testDims)
	client := embedding.NewClient(mock, embedding.ClientConfig{MaxAttempts: 1, RetryBaseDelay: time.Millisecond})

	opts = append([]Option{WithBlobStore(blobs)}, opts...)
	p, err := New(store, client, nil, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{p: p, store: store, mock: mock, blobs: blobs}
}

// drive advances id until it is terminal.
func (f *fixture) drive(t *testing.T, id string) models.DocumentStatus {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		st, err := f.p.Status(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if st.State.Terminal() {
			return st
		}
		if err := f.p.Advance(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	t.Fatalf("document %s did not reach a terminal state", id)
	return models.DocumentStatus{}
}

func (f *fixture) submit(t *testing.T, name, content string) SubmitResult {
	t.Helper()
	res, err := f.p.Submit(context.Background(), fileid.FromBytes(name, []byte(content), "tester"))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestPipeline_250CharsBecomesReady(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()

	res := f.submit(t, "notes.txt", strings.Repeat("abcdefghij", 25))
	if res.Duplicate || res.State != models.StatePending {
		t.Fatalf("unexpected submit result %+v", res)
	}
	st := f.drive(t, res.DocumentID)
	if st.State != models.StateReady {
		t.Fatalf("state = %s (%s: %s)", st.State, st.FailureReason, st.Error)
	}
	if st.ChunkCount != 3 || st.EmbeddingCount != 3 {
		t.Errorf("chunks=%d embeddings=%d, want 3/3", st.ChunkCount, st.EmbeddingCount)
	}
	if !st.MetadataExtracted || !st.ChunksCreated || !st.Embedded {
		t.Errorf("stage flags not all set: %+v", st)
	}

	doc, err := f.store.DB().GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.ReadyForSearch() {
		t.Error("ready document violates readiness invariant")
	}
	if doc.Metadata["title"] != "notes" {
		t.Errorf("title = %v", doc.Metadata["title"])
	}
	chunks, err := f.store.GetChunksByDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != testDims {
			t.Errorf("chunk %s embedding has %d dims", ch.ID, len(ch.Embedding))
		}
	}

	hits, err := f.store.VectorSearch(ctx, f.mock.Embed(chunks[0].Content), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("ready document should be searchable")
	}
}

func TestPipeline_ZeroByteFailsExtraction(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	res := f.submit(t, "empty.txt", "")
	st := f.drive(t, res.DocumentID)
	if st.State != models.StateFailed || st.FailureReason != models.FailureExtraction {
		t.Fatalf("state=%s reason=%s, want failed/extraction", st.State, st.FailureReason)
	}
	if st.Retries != 0 {
		t.Errorf("extraction failures are not retried, got %d retries", st.Retries)
	}
	if f.mock.Calls() != 0 {
		t.Errorf("embedder called %d times for an empty document", f.mock.Calls())
	}
}

func TestPipeline_DuplicateUpload(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	content := strings.Repeat("duplicate content ", 20)

	first := f.submit(t, "a.txt", content)
	f.drive(t, first.DocumentID)
	before, err := f.store.GetChunksByDocument(ctx, first.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	calls := f.mock.Calls()

	second := f.submit(t, "copy-of-a.txt", content)
	if !second.Duplicate || second.DocumentID != first.DocumentID {
		t.Fatalf("second upload = %+v, want duplicate of %s", second, first.DocumentID)
	}
	f.drive(t, second.DocumentID)

	st, err := f.p.Status(ctx, first.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if st.References != 2 {
		t.Errorf("references = %d, want 2", st.References)
	}
	refs, err := f.store.DB().ListReferences(ctx, first.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, r := range refs {
		names[r.Name] = true
	}
	if !names["a.txt"] || !names["copy-of-a.txt"] {
		t.Errorf("reference names = %v", names)
	}

	after, err := f.store.GetChunksByDocument(ctx, first.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("chunk rows changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Content != after[i].Content {
			t.Errorf("chunk %d changed", i)
		}
	}
	if f.mock.Calls() != calls {
		t.Errorf("duplicate upload re-embedded: %d -> %d calls", calls, f.mock.Calls())
	}
}

func TestPipeline_DuplicateOfFailedDocument(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()

	first := f.submit(t, "empty.txt", "")
	if st := f.drive(t, first.DocumentID); st.State != models.StateFailed {
		t.Fatalf("state = %s, want failed", st.State)
	}
	again := f.submit(t, "empty-again.txt", "")
	if !again.Duplicate || again.DocumentID != first.DocumentID || again.State != models.StateFailed {
		t.Fatalf("resubmit = %+v, want duplicate of failed %s", again, first.DocumentID)
	}

	if err := f.p.Delete(ctx, first.DocumentID); err != nil {
		t.Fatal(err)
	}
	fresh := f.submit(t, "empty-again.txt", "")
	if fresh.Duplicate || fresh.DocumentID == first.DocumentID {
		t.Errorf("submit after delete = %+v, want a new document", fresh)
	}
}

func TestPipeline_AdvanceIdempotentWhenTerminal(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	res := f.submit(t, "doc.md", "some words to index for the test")
	f.drive(t, res.DocumentID)

	before, err := f.store.DB().GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	calls := f.mock.Calls()
	for i := 0; i < 3; i++ {
		if err := f.p.Advance(ctx, res.DocumentID); err != nil {
			t.Fatal(err)
		}
	}
	after, err := f.store.DB().GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if after.State != models.StateReady || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("terminal document changed: %s at %v -> %s at %v",
			before.State, before.UpdatedAt, after.State, after.UpdatedAt)
	}
	if f.mock.Calls() != calls {
		t.Error("advance on a ready document called the embedder")
	}
}

func TestPipeline_UnreadyChunksNotSearchable(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	res := f.submit(t, "doc.txt", "alpha beta gamma delta")

	// pending -> metadata_extracting -> chunking -> embedding
	for i := 0; i < 3; i++ {
		if err := f.p.Advance(ctx, res.DocumentID); err != nil {
			t.Fatal(err)
		}
	}
	st, _ := f.p.Status(ctx, res.DocumentID)
	if st.State != models.StateEmbedding || !st.ChunksCreated {
		t.Fatalf("state=%s chunks_created=%v", st.State, st.ChunksCreated)
	}
	hits, err := f.store.VectorSearch(ctx, f.mock.Embed("alpha beta gamma delta"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("unready document returned %d hits", len(hits))
	}
}

func TestPipeline_TransientEmbeddingFailureRetries(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	f.mock.FailWith(func(call int, _ []string) error {
		if call == 1 {
			return errors.New("connection refused")
		}
		return nil
	})
	res := f.submit(t, "doc.txt", "retry me please")
	for i := 0; i < 4; i++ {
		if err := f.p.Advance(ctx, res.DocumentID); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := f.store.DB().GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.State != models.StateEmbedding || doc.Retries != 1 {
		t.Fatalf("state=%s retries=%d, want embedding/1", doc.State, doc.Retries)
	}
	if doc.NextAttemptAt.IsZero() || doc.Error == "" {
		t.Error("retry should record next attempt and error")
	}

	st := f.drive(t, res.DocumentID)
	if st.State != models.StateReady {
		t.Fatalf("state = %s after retry (%s)", st.State, st.Error)
	}
	if st.Error != "" {
		t.Errorf("error not cleared after success: %q", st.Error)
	}
	if st.Retries != 0 {
		t.Errorf("retries = %d after the stage succeeded, want 0", st.Retries)
	}
}

func TestPipeline_RetriesExhausted(t *testing.T) {
	cfg := testIngestConfig()
	cfg.MaxRetries = 2
	f := newFixture(t, cfg)
	f.mock.FailWith(func(int, []string) error { return errors.New("503 upstream") })

	res := f.submit(t, "doc.txt", "never embeds")
	st := f.drive(t, res.DocumentID)
	if st.State != models.StateFailed || st.FailureReason != models.FailureInfrastructure {
		t.Fatalf("state=%s reason=%s", st.State, st.FailureReason)
	}
	if st.Retries != 2 {
		t.Errorf("retries = %d, want 2", st.Retries)
	}
	if calls := f.mock.Calls(); calls != cfg.MaxRetries {
		t.Errorf("embedding attempts = %d, want %d", calls, cfg.MaxRetries)
	}
	if !strings.Contains(st.Error, "503 upstream") {
		t.Errorf("error = %q", st.Error)
	}
}

func TestPipeline_TooManyChunks(t *testing.T) {
	cfg := testIngestConfig()
	cfg.MaxChunks = 2
	f := newFixture(t, cfg)
	res := f.submit(t, "big.txt", strings.Repeat("abcdefghij", 25))
	st := f.drive(t, res.DocumentID)
	if st.State != models.StateFailed || st.FailureReason != models.FailureTooManyChunks {
		t.Fatalf("state=%s reason=%s", st.State, st.FailureReason)
	}
	if st.ChunksCreated {
		t.Error("no chunks should be stored when the ceiling is exceeded")
	}
}

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

func TestPipeline_ReadyInvalidatesQueryCaches(t *testing.T) {
	ctx := context.Background()
	layer := cache.NewLayer(cache.NewMemoryStore(100), cache.TTLs{
		Embedding: time.Hour, Search: time.Minute, Answer: time.Minute,
	})
	lex := &countingInvalidator{}
	f := newFixture(t, testIngestConfig(), WithCache(layer), WithLexical(lex))

	if err := layer.Search.Set(ctx, "q", []byte(`{"answer":"old"}`)); err != nil {
		t.Fatal(err)
	}
	res := f.submit(t, "doc.txt", "fresh content arrives")
	f.drive(t, res.DocumentID)

	if _, ok, _ := layer.Search.Get(ctx, "q"); ok {
		t.Error("search cache survived a document becoming ready")
	}
	if lex.n.Load() != 1 {
		t.Errorf("lexical invalidations = %d, want 1", lex.n.Load())
	}

	if err := f.p.Delete(ctx, res.DocumentID); err != nil {
		t.Fatal(err)
	}
	if lex.n.Load() != 2 {
		t.Errorf("delete of a ready document should invalidate, got %d", lex.n.Load())
	}
}

func TestPipeline_Delete(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	res := f.submit(t, "doc.txt", "delete these words")
	f.drive(t, res.DocumentID)

	doc, err := f.store.DB().GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.p.Delete(ctx, res.DocumentID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Status(ctx, res.DocumentID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("status after delete: %v", err)
	}
	if _, err := os.Stat(doc.Locator); !os.IsNotExist(err) {
		t.Errorf("blob not removed: %v", err)
	}
	hits, err := f.store.VectorSearch(ctx, f.mock.Embed("delete these words"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted document still searchable")
	}
	if err := f.p.Delete(ctx, res.DocumentID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestPipeline_SubmitBulk(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	refs := []models.FileRef{
		fileid.FromBytes("one.txt", []byte("first file"), ""),
		fileid.FromBytes("two.txt", []byte("second file"), ""),
		fileid.FromBytes("one-again.txt", []byte("first file"), ""),
		{Name: ""},
	}
	out := f.p.SubmitBulk(context.Background(), refs)
	want := []string{OutcomeSuccess, OutcomeSuccess, OutcomeDuplicate, OutcomeError}
	for i, o := range out {
		if o.Status != want[i] {
			t.Errorf("outcome %d = %s (%s), want %s", i, o.Status, o.Error, want[i])
		}
	}
	if out[2].DocumentID != out[0].DocumentID {
		t.Error("duplicate should point at the first document")
	}
}

func TestPipeline_SubmitDirectory(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	dir := t.TempDir()
	for name, body := range map[string]string{
		"a.txt":        "alpha",
		"sub/b.md":     "bravo",
		"skip.go":      "package main",
		"sub/c.txt":    "charlie",
		"sub/deep/d.x": "delta",
	} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	out, err := f.p.SubmitDirectory(context.Background(), dir, []string{".txt", "md"}, "cli")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("submitted %d files, want 3: %+v", len(out), out)
	}
	for _, o := range out {
		if o.Status != OutcomeSuccess {
			t.Errorf("%s: %s %s", o.Name, o.Status, o.Error)
		}
	}
	// path submissions are read in place
	docs, err := f.store.DB().ListDocuments(context.Background(), "", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		if !strings.HasPrefix(d.Locator, dir) {
			t.Errorf("locator %s outside source dir", d.Locator)
		}
	}
}

func TestPipeline_SubmitPathRejects(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	dir := t.TempDir()
	if _, err := f.p.SubmitPath(ctx, dir, nil, ""); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("directory: %v", err)
	}
	if _, err := f.p.SubmitPath(ctx, filepath.Join(dir, "missing.txt"), nil, ""); err == nil {
		t.Error("missing file should fail")
	}
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.SubmitPath(ctx, path, []string{".txt"}, ""); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("filtered extension: %v", err)
	}
}

func TestPipeline_RecoverAfterRestart(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	ctx := context.Background()
	res := f.submit(t, "doc.txt", "left behind")
	if err := f.p.Advance(ctx, res.DocumentID); err != nil {
		t.Fatal(err)
	}

	// a fresh pipeline over the same store has an empty queue
	restarted, err := New(f.store, embedding.NewClient(f.mock, embedding.ClientConfig{}), nil, testIngestConfig(), WithBlobStore(f.blobs))
	if err != nil {
		t.Fatal(err)
	}
	n, err := restarted.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered %d documents, want 1", n)
	}
	if n, _ := restarted.Recover(ctx); n != 0 {
		t.Errorf("already queued document enqueued again")
	}
}

func TestPipeline_Run(t *testing.T) {
	f := newFixture(t, testIngestConfig())
	f.mock.FailWith(func(call int, _ []string) error {
		if call == 1 {
			return errors.New("temporarily unavailable")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		ids = append(ids, f.submit(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("document number %d body", i)).DocumentID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for _, id := range ids {
		for {
			st, err := f.p.Status(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if st.State == models.StateReady {
				break
			}
			if st.State == models.StateFailed {
				t.Fatalf("%s failed: %s", id, st.Error)
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s stuck in %s", id, st.State)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if _, err := f.p.Submit(context.Background(), fileid.FromBytes("late.txt", []byte("late"), "")); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after shutdown: %v", err)
	}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		if got := extensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hash := fileid.HashBytes([]byte("blob"))
	loc, err := fs.Put(ctx, hash, strings.NewReader("blob"))
	if err != nil {
		t.Fatal(err)
	}
	again, err := fs.Put(ctx, hash, strings.NewReader("blob"))
	if err != nil || again != loc {
		t.Fatalf("second put = %s, %v", again, err)
	}
	r, err := fs.Open(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	outside := filepath.Join(t.TempDir(), "keep.txt")
	if err := os.WriteFile(outside, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := fs.Remove(ctx, outside); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("Remove deleted a file outside the store")
	}
	if err := fs.Remove(ctx, loc); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Open(ctx, loc); !os.IsNotExist(err) {
		t.Errorf("blob still present: %v", err)
	}
	if _, err := fs.Put(ctx, "../../etc", strings.NewReader("x")); err == nil {
		t.Error("path-like hash accepted")
	}
}
