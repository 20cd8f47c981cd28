// Package models defines core data structures for documents, chunks, queries, and search results.
package models

import (
	"context"
	"io"
	"time"
)

// State is the processing state of a document.
type State string

const (
	StatePending            State = "pending"
	StateMetadataExtracting State = "metadata_extracting"
	StateChunking           State = "chunking"
	StateEmbedding          State = "embedding"
	StateReady              State = "ready"
	StateFailed             State = "failed"
)

// States lists every state in pipeline order.
var States = []State{StatePending, StateMetadataExtracting, StateChunking, StateEmbedding, StateReady, StateFailed}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateMetadataExtracting, StateChunking, StateEmbedding, StateReady, StateFailed:
		return true
	}
	return false
}

// FailureReason classifies why a document reached the failed state.
type FailureReason string

const (
	FailureNone           FailureReason = ""
	FailureExtraction     FailureReason = "extraction"
	FailureValidation     FailureReason = "validation"
	FailureInfrastructure FailureReason = "infrastructure"
	FailureTooManyChunks  FailureReason = "too_many_chunks"
)

// Document represents one uploaded source file and its processing progress.
type Document struct {
	ID          string `json:"id" db:"id"`
	ContentHash string `json:"content_hash" db:"content_hash"`
	Name        string `json:"name" db:"name"`
	Size        int64  `json:"size" db:"size"`
	Locator     string `json:"locator" db:"locator"`
	State       State  `json:"state" db:"state"`

	MetadataExtracted bool `json:"metadata_extracted" db:"metadata_extracted"`
	ChunksCreated     bool `json:"chunks_created" db:"chunks_created"`
	Embedded          bool `json:"embedded" db:"embedded"`

	Error         string        `json:"error,omitempty" db:"error"`
	FailureReason FailureReason `json:"failure_reason,omitempty" db:"failure_reason"`
	Retries       int           `json:"retries" db:"retries"`
	NextAttemptAt time.Time     `json:"next_attempt_at,omitempty" db:"next_attempt_at"`

	StageStartedAt  time.Time `json:"stage_started_at,omitempty" db:"stage_started_at"`
	StageFinishedAt time.Time `json:"stage_finished_at,omitempty" db:"stage_finished_at"`

	ChunkCount     int `json:"chunk_count" db:"chunk_count"`
	EmbeddingCount int `json:"embedding_count" db:"embedding_count"`

	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// ReadyForSearch reports whether the document satisfies the readiness invariant:
// all stage flags set, at least one chunk, and one embedding per chunk.
func (d *Document) ReadyForSearch() bool {
	return d.MetadataExtracted && d.ChunksCreated && d.Embedded &&
		d.ChunkCount > 0 && d.EmbeddingCount == d.ChunkCount
}

// Reference links one upload (a name and an uploader) to a document.
// Byte-identical uploads share a document and differ only in references.
type Reference struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Name       string    `json:"name" db:"name"`
	UploadedBy string    `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Chunk is one retrievable text segment of a document.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Index      int       `json:"chunk_index" db:"chunk_index"`
	PageNumber *int      `json:"page_number,omitempty" db:"page_number"`
	Content    string    `json:"content" db:"content"`
	Embedding  []float32 `json:"-" db:"embedding"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ScoredChunk is a chunk with a similarity score in [0,1].
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// FileRef is a stored file handed to the ingestion pipeline.
// Open must return a fresh reader over the file content on every call.
type FileRef struct {
	Name        string
	Size        int64
	ContentHash string
	Locator     string
	UploadedBy  string
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

// DocumentStatus is the externally visible processing status of a document.
type DocumentStatus struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	State             State         `json:"state"`
	MetadataExtracted bool          `json:"metadata_extracted"`
	ChunksCreated     bool          `json:"chunks_created"`
	Embedded          bool          `json:"embedded"`
	ChunkCount        int           `json:"chunk_count"`
	EmbeddingCount    int           `json:"embedding_count"`
	Retries           int           `json:"retries"`
	Error             string        `json:"error,omitempty"`
	FailureReason     FailureReason `json:"failure_reason,omitempty"`
	References        int           `json:"references"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// StatusOf builds the status view of doc.
func StatusOf(doc *Document, references int) DocumentStatus {
	return DocumentStatus{
		ID:                doc.ID,
		Name:              doc.Name,
		State:             doc.State,
		MetadataExtracted: doc.MetadataExtracted,
		ChunksCreated:     doc.ChunksCreated,
		Embedded:          doc.Embedded,
		ChunkCount:        doc.ChunkCount,
		EmbeddingCount:    doc.EmbeddingCount,
		Retries:           doc.Retries,
		Error:             doc.Error,
		FailureReason:     doc.FailureReason,
		References:        references,
		UpdatedAt:         doc.UpdatedAt,
	}
}
