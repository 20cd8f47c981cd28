// Package generation produces grounded answers from a question and numbered
// context passages.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoContext is returned when Generate is called without passages.
	ErrNoContext = errors.New("generation: no context")
	// ErrEmptyResponse is returned when a provider answers with no text.
	ErrEmptyResponse = errors.New("generation: empty response")
)

// Generator answers question using only contexts. contexts[i] is cited as [i+1].
type Generator interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

const promptTemplate = `Answer the question using only the numbered context passages below.
Cite the passages you use with their numbers in square brackets, for example [1].
If the passages do not contain the answer, say that you do not know.

Context:
%s
Question: %s
Answer:`

// BuildPrompt renders the grounded prompt sent to model-backed generators.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(c))
	}
	return fmt.Sprintf(promptTemplate, b.String(), strings.TrimSpace(question))
}
