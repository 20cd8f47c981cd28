package generation

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/config"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderLangChain  = "langchain"
	ProviderExtractive = "extractive"
)

// New returns the generator named by cfg.Provider.
func New(cfg config.GenerationConfig) (Generator, error) {
	gc := Config{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		MaxAttempts:       cfg.MaxAttempts,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAI(gc)
	case ProviderLangChain:
		return NewLangChain(gc)
	case ProviderExtractive, "":
		return NewExtractive(0), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
