package keyword

import (
	"context"
	"errors"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

type fakeSource struct {
	mu     sync.Mutex
	chunks []*models.Chunk
	err    error
	builds atomic.Int32
	gate   chan struct{}
}

func (f *fakeSource) set(chunks ...*models.Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = chunks
}

func (f *fakeSource) AllReadyChunks(ctx context.Context) iter.Seq2[*models.Chunk, error] {
	f.builds.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	chunks, err := f.chunks, f.err
	f.mu.Unlock()
	return func(yield func(*models.Chunk, error) bool) {
		if err != nil {
			yield(nil, err)
			return
		}
		for _, ch := range chunks {
			if !yield(ch, nil) {
				return
			}
		}
	}
}

func chunk(id, content string) *models.Chunk {
	return &models.Chunk{ID: id, DocumentID: "doc", Content: content}
}

func mustAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAnalyzer_Terms(t *testing.T) {
	a := mustAnalyzer(t)
	got := a.Terms("The Running dogs are running")
	// stop words dropped, lowercased, stemmed
	want := []string{"run", "dog", "run"}
	if len(got) != len(want) {
		t.Fatalf("Terms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if u := a.Unique("running runs run"); len(u) != 1 || u[0] != "run" {
		t.Errorf("Unique = %v", u)
	}
	if a.Terms("") != nil {
		t.Error("empty text should have no terms")
	}
}

func TestSnapshot_BM25(t *testing.T) {
	a := mustAnalyzer(t)
	src := &fakeSource{}
	src.set(
		chunk("c1", "install the package then install again"),
		chunk("c2", "configure the network"),
		chunk("c3", "install network drivers"),
	)
	snap, err := BuildSnapshot(context.Background(), a, src.AllReadyChunks(context.Background()))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 3 {
		t.Fatalf("Len = %d", snap.Len())
	}
	term := a.Terms("install")[0]
	if snap.DocFreq(term) != 2 {
		t.Errorf("df(install) = %d, want 2", snap.DocFreq(term))
	}
	wantIDF := math.Log(1 + (3-2+0.5)/(2+0.5))
	if math.Abs(snap.IDF(term)-wantIDF) > 1e-9 {
		t.Errorf("idf = %f, want %f", snap.IDF(term), wantIDF)
	}

	scores := snap.Score(a.Unique("install"), []string{"c1", "c2", "c3", "missing"}, DefaultK1, DefaultB)
	if _, ok := scores["c2"]; ok {
		t.Error("non-matching chunk should be absent")
	}
	if _, ok := scores["missing"]; ok {
		t.Error("unknown chunk should be absent")
	}
	// c1 mentions install twice
	if scores["c1"] <= scores["c3"] {
		t.Errorf("c1 (%f) should outscore c3 (%f)", scores["c1"], scores["c3"])
	}
}

func TestIndex_ScoreNormalized(t *testing.T) {
	src := &fakeSource{}
	src.set(chunk("a", "kubernetes pod restart"), chunk("b", "pod"), chunk("c", "unrelated text"))
	idx := NewIndex(src, mustAnalyzer(t), Config{})

	scores, err := idx.Score(context.Background(), idx.Terms("kubernetes pod"), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if scores["a"] != 1 {
		t.Errorf("best candidate should score 1, got %f", scores["a"])
	}
	if scores["b"] <= 0 || scores["b"] >= 1 {
		t.Errorf("b = %f, want in (0,1)", scores["b"])
	}
	if _, ok := scores["c"]; ok {
		t.Error("c should not match")
	}
}

func TestIndex_ReusesSnapshotUntilStale(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	src := &fakeSource{}
	src.set(chunk("a", "alpha"))
	idx := NewIndex(src, mustAnalyzer(t), Config{TTL: time.Minute}, WithClock(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := idx.Score(ctx, []string{"alpha"}, []string{"a"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := src.builds.Load(); n != 1 {
		t.Fatalf("builds = %d, want 1", n)
	}

	// expired: the old snapshot is served while a rebuild runs
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	old := idx.Current()
	if _, err := idx.Score(ctx, []string{"alpha"}, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for idx.Current() == old && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if idx.Current() == old {
		t.Fatal("expired snapshot was not replaced")
	}
}

func TestIndex_InvalidateRebuildsWithNewChunks(t *testing.T) {
	src := &fakeSource{}
	src.set(chunk("a", "alpha"))
	idx := NewIndex(src, mustAnalyzer(t), Config{})
	ctx := context.Background()

	if _, err := idx.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	src.set(chunk("a", "alpha"), chunk("b", "beta"))
	idx.Invalidate()
	if _, err := idx.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	scores, err := idx.Score(ctx, idx.Terms("beta"), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if scores["b"] != 1 {
		t.Errorf("new chunk not scored after invalidate: %v", scores)
	}
	if n := src.builds.Load(); n != 2 {
		t.Errorf("builds = %d, want 2", n)
	}
}

func TestIndex_ConcurrentFirstReadsShareOneBuild(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	src.set(chunk("a", "alpha"))
	idx := NewIndex(src, mustAnalyzer(t), Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := idx.Score(context.Background(), []string{"alpha"}, []string{"a"})
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := src.builds.Load(); n != 1 {
		t.Errorf("builds = %d, want 1", n)
	}
}

func TestIndex_BuildError(t *testing.T) {
	boom := errors.New("db down")
	src := &fakeSource{err: boom}
	idx := NewIndex(src, mustAnalyzer(t), Config{})
	if _, err := idx.Score(context.Background(), []string{"x"}, []string{"a"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if idx.Current() != nil {
		t.Error("failed build should not install a snapshot")
	}
}

func TestIndex_EmptyInputs(t *testing.T) {
	src := &fakeSource{}
	idx := NewIndex(src, mustAnalyzer(t), Config{})
	scores, err := idx.Score(context.Background(), nil, []string{"a"})
	if err != nil || len(scores) != 0 {
		t.Errorf("no terms: %v %v", scores, err)
	}
	if src.builds.Load() != 0 {
		t.Error("empty query should not build a snapshot")
	}
}
