package indexer

import (
	"strings"
	"testing"
)

func BenchmarkChunkerSplit(b *testing.B) {
	c, err := NewChunker(500, 50, 0)
	if err != nil {
		b.Fatal(err)
	}
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. Then it rests. ", 400)
	for b.Loop() {
		_, _ = c.Split(text)
	}
}
