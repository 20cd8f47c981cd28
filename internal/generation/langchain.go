package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/hyperjump/kotae/internal/retry"
)

// LangChain generates answers through any langchaingo model.
type LangChain struct {
	llm llms.Model
	cfg Config
}

// NewLangChain creates a generator backed by langchaingo's OpenAI client.
func NewLangChain(cfg Config) (*LangChain, error) {
	cfg.applyDefaults()
	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithBaseURL(cfg.BaseURL)}
	token := cfg.APIKey
	if token == "" {
		token = "placeholder"
	}
	opts = append(opts, openai.WithToken(token))
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain: %w", err)
	}
	return NewLangChainFrom(llm, cfg), nil
}

// NewLangChainFrom wraps an existing model.
func NewLangChainFrom(llm llms.Model, cfg Config) *LangChain {
	cfg.applyDefaults()
	return &LangChain{llm: llm, cfg: cfg}
}

// Generate implements Generator.
func (l *LangChain) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return "", ErrNoContext
	}
	prompt := BuildPrompt(question, contexts)
	opts := []llms.CallOption{llms.WithTemperature(l.cfg.Temperature)}
	if l.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.cfg.MaxTokens))
	}

	var answer string
	err := retry.Do(ctx, func(ctx context.Context) error {
		text, err := llms.GenerateFromSinglePrompt(ctx, l.llm, prompt, opts...)
		if err != nil {
			return fmt.Errorf("langchain: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return retry.Permanent(ErrEmptyResponse)
		}
		answer = text
		return nil
	}, l.cfg.MaxAttempts, l.cfg.RetryBaseDelay)
	return answer, err
}
