package models

// Citation points an answer back to the chunk that grounds it.
type Citation struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name,omitempty"`
	ChunkIndex   int     `json:"chunk_index"`
	PageNumber   *int    `json:"page_number,omitempty"`
	Score        float64 `json:"score"`
	Snippet      string  `json:"snippet,omitempty"`
}

// Timing holds per-stage latency for one search, in milliseconds.
type Timing struct {
	QueryMs   int64 `json:"query_ms"`
	EmbedMs   int64 `json:"embed_ms"`
	VectorMs  int64 `json:"vector_ms"`
	LexicalMs int64 `json:"lexical_ms"`
	RerankMs  int64 `json:"rerank_ms"`
	AnswerMs  int64 `json:"answer_ms"`
	TotalMs   int64 `json:"total_ms"`
}

// Reasons reported on an ungrounded response.
const (
	ReasonNoRelevantContent = "no_relevant_content"
)

// SearchResponse is the response for a search request.
// Grounded is false when no chunk cleared the tier's floor; Answer is then empty
// and Reason explains why. Infrastructure failures are returned as errors, never
// as an ungrounded response.
type SearchResponse struct {
	Query          string     `json:"query"`
	EffectiveQuery string     `json:"effective_query"`
	Tier           Tier       `json:"tier"`
	QueryType      string     `json:"query_type"`
	Answer         string     `json:"answer"`
	AnswerMode     string     `json:"answer_mode,omitempty"`
	Grounded       bool       `json:"grounded"`
	Reason         string     `json:"reason,omitempty"`
	Citations      []Citation `json:"citations"`
	Degraded       bool       `json:"degraded,omitempty"`
	FellBack       bool       `json:"fell_back_to_original,omitempty"`
	Cached         bool       `json:"cached"`
	Timing         Timing     `json:"timing"`
}
