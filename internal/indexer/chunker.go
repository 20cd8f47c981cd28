package indexer

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/hyperjump/kotae/internal/extract"
)

// ErrTooManyChunks is returned when a document would produce more segments than
// the safety ceiling allows. Nothing is truncated; the document fails.
var ErrTooManyChunks = errors.New("indexer: too many chunks")

// Segment is one chunk of text produced by the Chunker.
type Segment struct {
	Text  string
	Index int
	// PageNumber is the page containing the first character, nil when the
	// source has no pages.
	PageNumber *int
}

// Chunker splits text into fixed-size, overlapping character windows.
type Chunker struct {
	size      int
	overlap   int
	maxChunks int
}

// NewChunker creates a chunker with the given size and overlap in characters.
// maxChunks <= 0 disables the ceiling.
func NewChunker(size, overlap, maxChunks int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap, maxChunks: maxChunks}, nil
}

type pageSpan struct {
	start  int // rune offset of the first character
	number int
}

// Chunks lazily yields segments covering every page's text. Consecutive
// segments share exactly overlap characters; the last may be shorter. Pages are
// preprocessed and joined with a single space. Empty input yields nothing.
func (c *Chunker) Chunks(pages []extract.Page) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		var (
			b     strings.Builder
			spans []pageSpan
			pos   int
		)
		for _, p := range pages {
			text := Preprocess(p.Text)
			if text == "" {
				continue
			}
			if pos > 0 {
				b.WriteByte(' ')
				pos++
			}
			spans = append(spans, pageSpan{start: pos, number: p.Number})
			b.WriteString(text)
			pos += len([]rune(text))
		}
		runes := []rune(b.String())
		if len(runes) == 0 {
			return
		}

		step := c.size - c.overlap
		span := 0
		for index, start := 0, 0; ; index, start = index+1, start+step {
			if c.maxChunks > 0 && index >= c.maxChunks {
				yield(Segment{}, fmt.Errorf("%w: more than %d segments", ErrTooManyChunks, c.maxChunks))
				return
			}
			end := min(start+c.size, len(runes))
			for span+1 < len(spans) && spans[span+1].start <= start {
				span++
			}
			seg := Segment{Text: string(runes[start:end]), Index: index}
			if n := spans[span].number; n > 0 {
				seg.PageNumber = &n
			}
			if !yield(seg, nil) {
				return
			}
			if end == len(runes) {
				return
			}
		}
	}
}

// Collect materializes the sequence, stopping at the first error.
func Collect(seq iter.Seq2[Segment, error]) ([]Segment, error) {
	var out []Segment
	for seg, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// Split chunks a single unpaged text.
func (c *Chunker) Split(text string) ([]Segment, error) {
	return Collect(c.Chunks([]extract.Page{{Text: text}}))
}
