package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/hyperjump/kotae/internal/retry"
)

// HTTPReranker calls a text-embeddings-inference compatible /rerank endpoint
// with a cross-encoder model behind it.
type HTTPReranker struct {
	client  *http.Client
	baseURL string
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPReranker returns a reranker for the server at baseURL.
func NewHTTPReranker(baseURL string, timeout time.Duration) (*HTTPReranker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("rerank: base URL required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPReranker{client: &http.Client{Timeout: timeout}, baseURL: baseURL}, nil
}

// Rerank implements Reranker. The model score, squashed to [0,1], becomes the
// candidate score. Equal scores keep the incoming order.
func (h *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate, k int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Content
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, retry.FromStatus("rerank", resp.StatusCode, respBody)
	}
	var hits []rerankHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("rerank: decoding response: %w", err)
	}

	scores := make(map[int]float64, len(hits))
	for _, hit := range hits {
		if _, dup := scores[hit.Index]; dup || hit.Index < 0 || hit.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank: invalid index %d in response", hit.Index)
		}
		scores[hit.Index] = squash(hit.Score)
	}
	scored := make([]Candidate, 0, len(scores))
	for i, c := range candidates {
		if s, ok := scores[i]; ok {
			c.Score = s
			scored = append(scored, c)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// squash maps raw logits to (0,1); scores already in [0,1] pass through.
func squash(s float64) float64 {
	if s >= 0 && s <= 1 {
		return s
	}
	return 1 / (1 + math.Exp(-s))
}
