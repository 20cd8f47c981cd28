package utils

import (
	"math"
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("日本語テキスト", 3); got != "日本語..." {
		t.Errorf("rune truncation: got %s", got)
	}
}

func TestHashString(t *testing.T) {
	a := HashString("same text")
	if a != HashString("same text") {
		t.Error("hash should be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if HashParts("a", "bc") == HashParts("ab", "c") {
		t.Error("parts must not collide on concatenation")
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors: got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("length mismatch: got %v", got)
	}
	if CosineToUnit(-1) != 0 || CosineToUnit(1) != 1 || CosineToUnit(0) != 0 || CosineToUnit(0.42) != 0.42 || CosineToUnit(1.0000001) != 1 {
		t.Error("CosineToUnit should clamp cosine into [0,1]")
	}
}
