package indexer

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/extract"
)

func mustChunker(t *testing.T, size, overlap, max int) *Chunker {
	t.Helper()
	c, err := NewChunker(size, overlap, max)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestChunker_250CharsSize100Overlap10(t *testing.T) {
	text := strings.Repeat("abcdefghij", 25)
	segs, err := mustChunker(t, 100, 10, 0).Split(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	wantLens := []int{100, 100, 70}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d Index=%d", i, s.Index)
		}
		if len(s.Text) != wantLens[i] {
			t.Errorf("segment %d len=%d, want %d", i, len(s.Text), wantLens[i])
		}
		if s.PageNumber != nil {
			t.Errorf("unpaged text should have nil page number")
		}
	}
}

func TestChunker_OverlapAndCoverage(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		length        int
	}{
		{"exact multiple", 10, 2, 26},
		{"no overlap", 7, 0, 30},
		{"shorter than size", 50, 5, 12},
		{"large overlap", 10, 9, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			for i := 0; i < tt.length; i++ {
				sb.WriteByte(byte('a' + i%26))
			}
			text := sb.String()
			segs, err := mustChunker(t, tt.size, tt.overlap, 0).Split(text)
			if err != nil {
				t.Fatal(err)
			}
			// rebuild the text from segments minus overlaps
			rebuilt := segs[0].Text
			for i := 1; i < len(segs); i++ {
				prev, cur := segs[i-1].Text, segs[i].Text
				if prev[len(prev)-tt.overlap:] != cur[:tt.overlap] {
					t.Errorf("segments %d and %d do not share %d chars", i-1, i, tt.overlap)
				}
				rebuilt += cur[tt.overlap:]
			}
			if rebuilt != text {
				t.Errorf("segments do not cover input:\n got %q\nwant %q", rebuilt, text)
			}
		})
	}
}

func TestChunker_RuneSafe(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 10)
	segs, err := mustChunker(t, 8, 2, 0).Split(text)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range segs {
		if !utf8.ValidString(s.Text) {
			t.Fatalf("segment split a rune: %q", s.Text)
		}
		if n := utf8.RuneCountInString(s.Text); n > 8 {
			t.Errorf("segment has %d runes, want <= 8", n)
		}
	}
}

func TestChunker_Empty(t *testing.T) {
	segs, err := mustChunker(t, 5, 1, 0).Split("   \n\t  ")
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 0 {
		t.Errorf("empty text should yield no segments, got %v", segs)
	}
}

func TestChunker_TooManyChunks(t *testing.T) {
	c := mustChunker(t, 10, 0, 3)
	_, err := c.Split(strings.Repeat("x", 31))
	if !errors.Is(err, ErrTooManyChunks) {
		t.Fatalf("expected ErrTooManyChunks, got %v", err)
	}
	// exactly at the ceiling is fine
	segs, err := c.Split(strings.Repeat("x", 30))
	if err != nil || len(segs) != 3 {
		t.Errorf("at ceiling: %d segments, err %v", len(segs), err)
	}
}

func TestChunker_Lazy(t *testing.T) {
	c := mustChunker(t, 10, 0, 0)
	n := 0
	for _, err := range c.Chunks([]extract.Page{{Text: strings.Repeat("y", 1000)}}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("expected early stop after 2, got %d", n)
	}
}

func TestChunker_PageNumbers(t *testing.T) {
	pages := []extract.Page{
		{Number: 1, Text: strings.Repeat("a", 15)},
		{Number: 2, Text: strings.Repeat("b", 15)},
	}
	segs, err := Collect(mustChunker(t, 10, 0, 0).Chunks(pages))
	if err != nil {
		t.Fatal(err)
	}
	// text is 15 a + space + 15 b = 31 runes: starts 0, 10, 20, 30
	want := []int{1, 1, 2, 2}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(segs))
	}
	for i, s := range segs {
		if s.PageNumber == nil || *s.PageNumber != want[i] {
			t.Errorf("segment %d page=%v, want %d", i, s.PageNumber, want[i])
		}
	}
}

func TestNewChunker_Invalid(t *testing.T) {
	if _, err := NewChunker(10, 10, 0); err == nil {
		t.Error("overlap == size should be rejected")
	}
	if _, err := NewChunker(0, 0, 0); err == nil {
		t.Error("zero size should be rejected")
	}
}

func TestPreprocess(t *testing.T) {
	if got := Preprocess("  a \x00 b\n\n\tc  "); got != "a b c" {
		t.Errorf("Preprocess = %q", got)
	}
}
