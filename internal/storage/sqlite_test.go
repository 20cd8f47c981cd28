package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestDocument(id, hash string) *models.Document {
	return &models.Document{
		ID:          id,
		ContentHash: hash,
		Name:        id + ".txt",
		Size:        42,
		Locator:     "/blobs/" + hash,
		State:       models.StatePending,
	}
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := newTestDocument("doc1", "sha256:aaa")
	doc.Metadata = map[string]interface{}{"k": "v"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "doc1.txt" || got.State != models.StatePending || got.Metadata["k"] != "v" {
		t.Errorf("got %+v", got)
	}

	byHash, err := store.GetDocumentByHash(ctx, "sha256:aaa")
	if err != nil {
		t.Fatal(err)
	}
	if byHash.ID != "doc1" {
		t.Errorf("GetDocumentByHash returned %s", byHash.ID)
	}

	next := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	doc.State = models.StateChunking
	doc.MetadataExtracted = true
	doc.Retries = 2
	doc.NextAttemptAt = next
	doc.Error = "boom"
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, "doc1")
	if got.State != models.StateChunking || !got.MetadataExtracted || got.Retries != 2 || got.Error != "boom" {
		t.Errorf("update not persisted: %+v", got)
	}
	if !got.NextAttemptAt.Equal(next) {
		t.Errorf("NextAttemptAt = %v, want %v", got.NextAttemptAt, next)
	}

	list, err := store.ListDocuments(ctx, "", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}
	list, _ = store.ListDocuments(ctx, models.StateReady, 0, 10)
	if len(list) != 0 {
		t.Errorf("state filter: expected 0 ready docs, got %d", len(list))
	}

	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_DuplicateHash(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, newTestDocument("a", "sha256:same")); err != nil {
		t.Fatal(err)
	}
	err := store.CreateDocument(ctx, newTestDocument("b", "sha256:same"))
	if !errors.Is(err, ErrDuplicateHash) {
		t.Fatalf("expected ErrDuplicateHash, got %v", err)
	}
}

func TestSQLiteStorage_ChunksAndEmbeddings(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := newTestDocument("d1", "sha256:d1")
	_ = store.CreateDocument(ctx, doc)

	page := 2
	chunks := []*models.Chunk{
		{ID: "d1_0", DocumentID: "d1", Index: 0, Content: "chunk0", PageNumber: &page},
		{ID: "d1_1", DocumentID: "d1", Index: 1, Content: "chunk1"},
	}
	doc.ChunksCreated = true
	doc.ChunkCount = len(chunks)
	if err := store.PutChunks(ctx, doc, chunks); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetDocument(ctx, "d1")
	if !got.ChunksCreated || got.ChunkCount != 2 {
		t.Errorf("document row not written with chunks: %+v", got)
	}

	// re-running replaces rather than duplicates
	if err := store.PutChunks(ctx, doc, chunks); err != nil {
		t.Fatalf("PutChunks rerun: %v", err)
	}
	list, err := store.GetChunksByDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(list))
	}
	if list[0].PageNumber == nil || *list[0].PageNumber != 2 || list[1].PageNumber != nil {
		t.Errorf("page numbers not round-tripped: %v %v", list[0].PageNumber, list[1].PageNumber)
	}
	if list[0].Embedding != nil {
		t.Error("embedding should be nil before SetEmbeddings")
	}

	doc.Embedded = true
	doc.EmbeddingCount = 2
	err = store.SetEmbeddings(ctx, doc, map[string][]float32{"d1_0": {1, 0}, "d1_1": {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	list, _ = store.GetChunksByDocument(ctx, "d1")
	if len(list[1].Embedding) != 2 || list[1].Embedding[1] != 1 {
		t.Errorf("embedding not stored: %v", list[1].Embedding)
	}
	got, _ = store.GetDocument(ctx, "d1")
	if !got.Embedded || got.EmbeddingCount != 2 {
		t.Errorf("document row not written with embeddings: %+v", got)
	}

	ids, _ := store.ChunkIDs(ctx, "d1")
	if len(ids) != 2 || ids[0] != "d1_0" {
		t.Errorf("ChunkIDs = %v", ids)
	}
}

func TestSQLiteStorage_SetEmbeddingsIsAtomic(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := newTestDocument("d1", "sha256:d1")
	_ = store.CreateDocument(ctx, doc)
	_ = store.PutChunks(ctx, doc, []*models.Chunk{{ID: "d1_0", DocumentID: "d1", Content: "x"}})

	doc.Embedded = true
	doc.EmbeddingCount = 2
	err := store.SetEmbeddings(ctx, doc, map[string][]float32{"d1_0": {1}, "missing": {1}})
	if err == nil {
		t.Fatal("expected error for unknown chunk")
	}
	got, _ := store.GetDocument(ctx, "d1")
	if got.Embedded {
		t.Error("embedded flag committed despite failed transaction")
	}
	list, _ := store.GetChunksByDocument(ctx, "d1")
	if list[0].Embedding != nil {
		t.Error("embedding committed despite failed transaction")
	}
}

func TestSQLiteStorage_ReadyJoin(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ready := newTestDocument("ready", "sha256:r")
	pending := newTestDocument("pending", "sha256:p")
	_ = store.CreateDocument(ctx, ready)
	_ = store.CreateDocument(ctx, pending)
	_ = store.PutChunks(ctx, ready, []*models.Chunk{
		{ID: "ready_0", DocumentID: "ready", Index: 0, Content: "a", Embedding: []float32{1}},
		{ID: "ready_1", DocumentID: "ready", Index: 1, Content: "b"},
	})
	_ = store.PutChunks(ctx, pending, []*models.Chunk{
		{ID: "pending_0", DocumentID: "pending", Content: "c", Embedding: []float32{1}},
	})
	ready.State = models.StateReady
	_ = store.UpdateDocument(ctx, ready)

	got, err := store.ReadyChunksByIDs(ctx, []string{"ready_0", "ready_1", "pending_0", "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["ready_0"] == nil {
		t.Errorf("ReadyChunksByIDs = %v, want only ready_0", got)
	}

	var streamed []string
	for chunk, err := range store.ReadyChunks(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		streamed = append(streamed, chunk.ID)
	}
	if len(streamed) != 1 || streamed[0] != "ready_0" {
		t.Errorf("ReadyChunks = %v", streamed)
	}

	n, _ := store.CountReadyEmbeddings(ctx)
	if n != 1 {
		t.Errorf("CountReadyEmbeddings = %d, want 1", n)
	}
}

func TestSQLiteStorage_ListDue(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	due := newTestDocument("due", "sha256:1")
	later := newTestDocument("later", "sha256:2")
	later.NextAttemptAt = now.Add(time.Hour)
	done := newTestDocument("done", "sha256:3")
	done.State = models.StateReady
	for _, d := range []*models.Document{due, later, done} {
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.ListDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "due" {
		t.Errorf("ListDue = %v", list)
	}
}

func TestSQLiteStorage_ReferencesCascade(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := newTestDocument("d1", "sha256:d1")
	_ = store.CreateDocument(ctx, doc)
	_ = store.PutChunks(ctx, doc, []*models.Chunk{{ID: "d1_0", DocumentID: "d1", Content: "x"}})
	for _, id := range []string{"r1", "r2"} {
		if err := store.AddReference(ctx, &models.Reference{ID: id, DocumentID: "d1", Name: id + ".txt", UploadedBy: "alice"}); err != nil {
			t.Fatal(err)
		}
	}
	refs, _ := store.ListReferences(ctx, "d1")
	if len(refs) != 2 || refs[0].UploadedBy != "alice" {
		t.Errorf("ListReferences = %v", refs)
	}

	if err := store.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountReferences(ctx, "d1"); n != 0 {
		t.Errorf("references not cascaded, %d left", n)
	}
	if n, _ := store.CountChunks(ctx); n != 0 {
		t.Errorf("chunks not cascaded, %d left", n)
	}
}

func TestSQLiteStorage_Counts(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	counts, err := store.CountDocuments(ctx)
	if err != nil || len(counts) != 0 {
		t.Errorf("CountDocuments: %v, %v", err, counts)
	}
	_ = store.CreateDocument(ctx, newTestDocument("x", "sha256:x"))
	failed := newTestDocument("y", "sha256:y")
	failed.State = models.StateFailed
	_ = store.CreateDocument(ctx, failed)
	counts, _ = store.CountDocuments(ctx)
	if counts[models.StatePending] != 1 || counts[models.StateFailed] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}
