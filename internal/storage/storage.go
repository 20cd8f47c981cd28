// Package storage persists documents, chunks, and upload references, and joins
// vector search results against the readiness state of their documents.
package storage

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

var (
	// ErrNotFound is returned when a document or chunk does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateHash is returned when a document with the same content hash already exists.
	ErrDuplicateHash = errors.New("storage: duplicate content hash")
)

// Storage defines document, chunk, and reference persistence operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByHash(ctx context.Context, contentHash string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, state models.State, offset, limit int) ([]*models.Document, error)
	// ListDue returns non-terminal documents whose next attempt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*models.Document, error)

	// References
	AddReference(ctx context.Context, ref *models.Reference) error
	ListReferences(ctx context.Context, documentID string) ([]*models.Reference, error)
	CountReferences(ctx context.Context, documentID string) (int, error)

	// Chunk operations. PutChunks and SetEmbeddings write doc in the same
	// transaction as the chunk rows.
	PutChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	SetEmbeddings(ctx context.Context, doc *models.Document, embeddings map[string][]float32) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error)
	ChunkIDs(ctx context.Context, documentID string) ([]string, error)
	DeleteChunks(ctx context.Context, documentID string) error

	// Readiness-filtered reads
	ReadyChunksByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	ReadyChunks(ctx context.Context) iter.Seq2[*models.Chunk, error]

	// Stats
	CountDocuments(ctx context.Context) (map[models.State]int, error)
	CountChunks(ctx context.Context) (int64, error)
	CountReadyEmbeddings(ctx context.Context) (int64, error)

	Close() error
}
