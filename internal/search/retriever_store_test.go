package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const storeDims = 512

const podChunk = "kubernetes pod restart policy"

// readyStore indexes one ready document with a single chunk through the real
// SQLite store and memory vector index.
func readyStore(t *testing.T, mock *embedding.MockEmbedder) (*storage.ChunkStore, *embedding.Client) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "kotae.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vector.NewMemoryIndex(storeDims, "")
	if err != nil {
		t.Fatal(err)
	}
	store := storage.NewChunkStore(db, idx)
	t.Cleanup(func() { _ = store.Close() })

	doc := &models.Document{ID: "d1", ContentHash: "sha256:d1", Name: "k8s.txt", Size: int64(len(podChunk)), State: models.StatePending}
	if err := db.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	doc.State = models.StateReady
	doc.MetadataExtracted, doc.ChunksCreated, doc.Embedded = true, true, true
	doc.ChunkCount, doc.EmbeddingCount = 1, 1
	ch := &models.Chunk{ID: "d1_0", DocumentID: "d1", Index: 0, Content: podChunk, Embedding: mock.Embed(podChunk)}
	if err := store.PutChunks(ctx, doc, []*models.Chunk{ch}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Publish(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	client := embedding.NewClient(mock, embedding.ClientConfig{MaxAttempts: 1, RetryBaseDelay: time.Millisecond})
	return store, client
}

func requireCosine(t *testing.T, mock *embedding.MockEmbedder, text string, lo, hi float64) {
	t.Helper()
	c := utils.Cosine(mock.Embed(podChunk), mock.Embed(text))
	if c < lo || c > hi {
		t.Fatalf("fixture cosine(%q) = %.3f, want in [%.2f, %.2f]", text, c, lo, hi)
	}
}

func TestRetrieve_StoreUnrelatedQueryBelowFloor(t *testing.T) {
	mock := embedding.NewMockEmbedder(storeDims)
	store, client := readyStore(t, mock)
	r := NewRetriever(client, store, store.DB())
	tiers := config.DefaultTiers()

	unrelated := "banana smoothie recipe blender fruit"
	requireCosine(t, mock, unrelated, 0, 0)
	q := query.Processed{Original: "banana smoothie", Effective: unrelated, Expanded: true}

	for _, tier := range []models.Tier{models.TierImproved, models.TierAdvanced} {
		t.Run(string(tier), func(t *testing.T) {
			tc, _ := tiers.Get(tier)
			res, err := r.Retrieve(context.Background(), q, tc)
			if err != nil {
				t.Fatal(err)
			}
			if !res.FellBack {
				t.Error("expected the original query to be tried")
			}
			if !res.Empty || len(res.Candidates) != 0 {
				t.Errorf("unrelated chunk kept: %+v", res.Candidates)
			}
		})
	}
}

func TestRetrieve_StoreDilutedExpansionFallsBack(t *testing.T) {
	mock := embedding.NewMockEmbedder(storeDims)
	store, client := readyStore(t, mock)
	r := NewRetriever(client, store, store.DB())
	tiers := config.DefaultTiers()
	tc, _ := tiers.Get(models.TierImproved)

	original := "kubernetes pod restart"
	expanded := "kubernetes pod restart reboot reload reset relaunch cycle recover respawn"
	requireCosine(t, mock, expanded, 0.01, tc.MinScore-0.01)
	requireCosine(t, mock, original, tc.MinScore+0.01, 1)

	res, err := r.Retrieve(context.Background(), query.Processed{Original: original, Effective: expanded, Expanded: true}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FellBack || res.EffectiveQuery != original {
		t.Errorf("expected fallback to %q, got %+v", original, res)
	}
	equalIDs(t, candidateIDs(res.Candidates), "d1_0")
	if s := res.Candidates[0].VectorScore; s < tc.MinScore {
		t.Errorf("kept candidate below floor: %.3f", s)
	}
}

func TestEngine_StoreUnrelatedQueryHasNoRelevantContent(t *testing.T) {
	mock := embedding.NewMockEmbedder(storeDims)
	store, client := readyStore(t, mock)
	e := NewEngine(NewRetriever(client, store, store.DB()), NewSynthesizer(nil, nil), config.DefaultTiers())

	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "banana smoothie recipe blender fruit", Tier: models.TierImproved})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Grounded || resp.Reason != models.ReasonNoRelevantContent {
		t.Errorf("want ungrounded no_relevant_content, got grounded=%t reason=%q", resp.Grounded, resp.Reason)
	}

	resp, err = e.Search(context.Background(), &models.SearchQuery{Query: "kubernetes pod restart", Tier: models.TierImproved})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Grounded || len(resp.Citations) != 1 || resp.Citations[0].DocumentID != "d1" {
		t.Errorf("related query should be grounded on d1, got %+v", resp)
	}
}
