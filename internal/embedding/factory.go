package embedding

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig) (Embedder, error) {
	httpCfg := HTTPConfig{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Dimensions:        cfg.Dimensions,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
	switch cfg.Provider {
	case "tei", "":
		return NewTEI(httpCfg)
	case "openai":
		return NewOpenAI(httpCfg)
	case "langchain":
		return NewLangChain(httpCfg)
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: tei, openai, langchain, mock)", cfg.Provider)
	}
}
