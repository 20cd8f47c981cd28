package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperjump/kotae/internal/retry"
)

// HTTPConfig holds settings shared by the HTTP embedding providers.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	// RequestsPerSecond limits outgoing calls; zero means unlimited.
	RequestsPerSecond float64
}

func (c HTTPConfig) limiter() *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(c.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}

func (c HTTPConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// TEI calls a text-embeddings-inference server's /embed endpoint.
type TEI struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	dimensions int
	limiter    *rate.Limiter
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// NewTEI creates a TEI provider.
func NewTEI(cfg HTTPConfig) (*TEI, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tei: base URL required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("tei: dimensions must be positive")
	}
	return &TEI{
		client:     &http.Client{Timeout: cfg.timeout()},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
		limiter:    cfg.limiter(),
	}, nil
}

// EmbedBatch embeds texts in one request.
func (t *TEI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshaling request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tei: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, retry.FromStatus("tei", resp.StatusCode, respBody)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("tei: decoding response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("tei: got %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (t *TEI) Dimensions() int { return t.dimensions }

// Close releases idle connections.
func (t *TEI) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
