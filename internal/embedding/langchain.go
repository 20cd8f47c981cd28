package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain embeds through a langchaingo embedder backed by an OpenAI-compatible LLM client.
type LangChain struct {
	embedder   embeddings.Embedder
	dimensions int
}

// NewLangChain creates a langchaingo-backed provider.
func NewLangChain(cfg HTTPConfig) (*LangChain, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("langchain: dimensions must be positive")
	}
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	token := cfg.APIKey
	if token == "" {
		// local OpenAI-compatible servers ignore the token but langchaingo requires one
		token = "placeholder"
	}
	opts = append(opts, openai.WithToken(token))

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: creating client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("langchain: creating embedder: %w", err)
	}
	return NewLangChainFrom(embedder, cfg.Dimensions), nil
}

// NewLangChainFrom wraps an existing langchaingo embedder.
func NewLangChainFrom(embedder embeddings.Embedder, dimensions int) *LangChain {
	return &LangChain{embedder: embedder, dimensions: dimensions}
}

// EmbedBatch embeds texts via EmbedDocuments.
func (l *LangChain) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors, err := l.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("langchain: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("langchain: got %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (l *LangChain) Dimensions() int { return l.dimensions }

// Close is a no-op.
func (l *LangChain) Close() error { return nil }
