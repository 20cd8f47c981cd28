package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/ranking"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Answer modes.
const (
	AnswerModeGenerated  = "generated"
	AnswerModeExtractive = "extractive"
)

// DefaultSnippetLength is the citation snippet size in runes.
const DefaultSnippetLength = 240

// Answer is a synthesized answer with its citations. Citations[i] is [i+1] in Text.
type Answer struct {
	Text      string            `json:"text"`
	Mode      string            `json:"mode"`
	Citations []models.Citation `json:"citations"`
}

// Synthesizer builds the answer context from ranked candidates and asks a
// generator to answer from it.
type Synthesizer struct {
	generator  generation.Generator
	extractive *generation.Extractive
	snippetLen int
	logger     *zap.Logger
}

// NewSynthesizer returns a synthesizer. A nil generator answers extractively.
func NewSynthesizer(gen generation.Generator, logger *zap.Logger) *Synthesizer {
	ext := generation.NewExtractive(0)
	if gen == nil {
		gen = ext
	}
	return &Synthesizer{
		generator:  gen,
		extractive: ext,
		snippetLen: DefaultSnippetLength,
		logger:     utils.OrNop(logger),
	}
}

// Synthesize answers question from candidates, in rank order, that fit in
// budget characters. The first candidate is always used, truncated if needed.
// When the generator fails the answer falls back to extractive mode.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, candidates []ranking.Candidate, budget int) (*Answer, error) {
	contexts, used := BuildContext(candidates, budget)
	if len(contexts) == 0 {
		return nil, generation.ErrNoContext
	}

	terms := query.Words(question)
	citations := make([]models.Citation, len(used))
	for i, c := range used {
		citations[i] = models.Citation{
			DocumentID:   c.Chunk.DocumentID,
			DocumentName: c.DocumentName,
			ChunkIndex:   c.Chunk.Index,
			PageNumber:   c.Chunk.PageNumber,
			Score:        c.Score,
			Snippet:      Highlight(c.Chunk.Content, terms, s.snippetLen),
		}
	}

	mode := AnswerModeGenerated
	if _, ok := s.generator.(*generation.Extractive); ok {
		mode = AnswerModeExtractive
	}
	text, err := s.generator.Generate(ctx, question, contexts)
	if err != nil && mode == AnswerModeGenerated {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("generation failed, answering extractively", zap.Error(err))
		mode = AnswerModeExtractive
		text, err = s.extractive.Generate(ctx, question, contexts)
	}
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}
	return &Answer{Text: text, Mode: mode, Citations: citations}, nil
}

// BuildContext selects candidate contents in order until budget characters are
// used. It returns the passages and the candidates they came from.
func BuildContext(candidates []ranking.Candidate, budget int) ([]string, []ranking.Candidate) {
	var (
		contexts []string
		used     []ranking.Candidate
		size     int
	)
	for _, c := range candidates {
		content := c.Chunk.Content
		if content == "" {
			continue
		}
		n := len([]rune(content))
		if budget > 0 && size+n > budget {
			if len(contexts) > 0 {
				break
			}
			content = string([]rune(content)[:budget])
			n = budget
		}
		contexts = append(contexts, content)
		used = append(used, c)
		size += n
	}
	return contexts, used
}
