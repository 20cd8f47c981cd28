package keyword

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkSnapshotScore(b *testing.B) {
	a, err := NewAnalyzer()
	if err != nil {
		b.Fatal(err)
	}
	src := &fakeSource{}
	ids := make([]string, 0, 500)
	for i := range 500 {
		id := fmt.Sprintf("c%d", i)
		ids = append(ids, id)
		src.chunks = append(src.chunks, chunk(id, fmt.Sprintf("router %d firmware update steps, reset button held for %d seconds", i, i%30)))
	}
	snap, err := BuildSnapshot(context.Background(), a, src.AllReadyChunks(context.Background()))
	if err != nil {
		b.Fatal(err)
	}
	terms := a.Unique("reset the router firmware")
	for b.Loop() {
		_ = snap.Score(terms, ids, DefaultK1, DefaultB)
	}
}
