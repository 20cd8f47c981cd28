package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

// maxInParams bounds the number of bind parameters in one IN (...) clause.
const maxInParams = 500

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. Foreign keys are enforced on
// every connection so deletes cascade to chunks and references.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		locator TEXT NOT NULL,
		state TEXT NOT NULL,
		metadata_extracted INTEGER NOT NULL DEFAULT 0,
		chunks_created INTEGER NOT NULL DEFAULT 0,
		embedded INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		retries INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL DEFAULT 0,
		stage_started_at TIMESTAMP,
		stage_finished_at TIMESTAMP,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		embedding_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state, next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		page_number INTEGER,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		UNIQUE (document_id, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);

	CREATE TABLE IF NOT EXISTS document_refs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		name TEXT NOT NULL,
		uploaded_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_refs_document_id ON document_refs(document_id);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, content_hash, name, size, locator, state,
	metadata_extracted, chunks_created, embedded, error, failure_reason, retries,
	next_attempt_at, stage_started_at, stage_finished_at, chunk_count, embedding_count,
	metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc           models.Document
		state, reason string
		nextAttempt   int64
		started       sql.NullTime
		finished      sql.NullTime
		metadataJSON  sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.ContentHash, &doc.Name, &doc.Size, &doc.Locator, &state,
		&doc.MetadataExtracted, &doc.ChunksCreated, &doc.Embedded, &doc.Error, &reason, &doc.Retries,
		&nextAttempt, &started, &finished, &doc.ChunkCount, &doc.EmbeddingCount,
		&metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.State = models.State(state)
	doc.FailureReason = models.FailureReason(reason)
	doc.NextAttemptAt = fromMillis(nextAttempt)
	doc.StageStartedAt = started.Time
	doc.StageFinishedAt = finished.Time
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// CreateDocument inserts a document. Returns ErrDuplicateHash when the content hash exists.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ContentHash, doc.Name, doc.Size, doc.Locator, string(doc.State),
		doc.MetadataExtracted, doc.ChunksCreated, doc.Embedded, doc.Error, string(doc.FailureReason), doc.Retries,
		toMillis(doc.NextAttemptAt), nullTime(doc.StageStartedAt), nullTime(doc.StageFinishedAt),
		doc.ChunkCount, doc.EmbeddingCount, metadataJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrDuplicateHash, doc.ContentHash)
	}
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, err
}

// GetDocumentByHash returns the document with the given content hash.
func (s *SQLiteStorage) GetDocumentByHash(ctx context.Context, contentHash string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ?`, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: hash %s", ErrNotFound, contentHash)
	}
	return doc, err
}

// UpdateDocument updates an existing document.
func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	return updateDocument(ctx, s.db, doc)
}

func updateDocument(ctx context.Context, ex execer, doc *models.Document) error {
	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	doc.UpdatedAt = time.Now().UTC()

	result, err := ex.ExecContext(ctx,
		`UPDATE documents SET name = ?, size = ?, locator = ?, state = ?,
			metadata_extracted = ?, chunks_created = ?, embedded = ?, error = ?, failure_reason = ?,
			retries = ?, next_attempt_at = ?, stage_started_at = ?, stage_finished_at = ?,
			chunk_count = ?, embedding_count = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Name, doc.Size, doc.Locator, string(doc.State),
		doc.MetadataExtracted, doc.ChunksCreated, doc.Embedded, doc.Error, string(doc.FailureReason),
		doc.Retries, toMillis(doc.NextAttemptAt), nullTime(doc.StageStartedAt), nullTime(doc.StageFinishedAt),
		doc.ChunkCount, doc.EmbeddingCount, metadataJSON, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
	}
	return nil
}

// DeleteDocument removes a document by ID. Chunks and references cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// ListDocuments returns documents newest first. An empty state lists all states.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, state models.State, offset, limit int) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return s.queryDocuments(ctx, query, args...)
}

// ListDue returns non-terminal documents whose next attempt is due, oldest first.
func (s *SQLiteStorage) ListDue(ctx context.Context, now time.Time) ([]*models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE state NOT IN (?, ?) AND next_attempt_at <= ?
		 ORDER BY created_at`,
		string(models.StateReady), string(models.StateFailed), now.UnixMilli())
}

func (s *SQLiteStorage) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AddReference records one upload of an existing document.
func (s *SQLiteStorage) AddReference(ctx context.Context, ref *models.Reference) error {
	ref.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_refs (id, document_id, name, uploaded_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		ref.ID, ref.DocumentID, ref.Name, ref.UploadedBy, ref.CreatedAt)
	return err
}

// ListReferences returns a document's references oldest first.
func (s *SQLiteStorage) ListReferences(ctx context.Context, documentID string) ([]*models.Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, name, uploaded_by, created_at FROM document_refs
		 WHERE document_id = ? ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []*models.Reference
	for rows.Next() {
		var ref models.Reference
		if err := rows.Scan(&ref.ID, &ref.DocumentID, &ref.Name, &ref.UploadedBy, &ref.CreatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, &ref)
	}
	return refs, rows.Err()
}

// CountReferences returns the number of references to a document.
func (s *SQLiteStorage) CountReferences(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_refs WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

// PutChunks replaces the document's chunks and writes doc in one transaction.
// Re-running it after a partial failure leaves exactly one set of chunks.
func (s *SQLiteStorage) PutChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, document_id, chunk_index, page_number, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		if chunk.DocumentID != doc.ID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", chunk.ID, chunk.DocumentID, doc.ID)
		}
		chunk.CreatedAt = now
		var page sql.NullInt64
		if chunk.PageNumber != nil {
			page = sql.NullInt64{Int64: int64(*chunk.PageNumber), Valid: true}
		}
		var blob []byte
		if chunk.Embedding != nil {
			blob = vector.EncodeFloat32s(chunk.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.Index, page, chunk.Content, blob, chunk.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
	}

	if err := updateDocument(ctx, tx, doc); err != nil {
		return err
	}
	return tx.Commit()
}

// SetEmbeddings stores embeddings keyed by chunk ID and writes doc in one transaction.
// Every key must name an existing chunk of doc.
func (s *SQLiteStorage) SetEmbeddings(ctx context.Context, doc *models.Document, embeddings map[string][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE document_chunks SET embedding = ? WHERE id = ? AND document_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, vec := range embeddings {
		if len(vec) == 0 {
			return fmt.Errorf("empty embedding for chunk %s", id)
		}
		result, err := stmt.ExecContext(ctx, vector.EncodeFloat32s(vec), id, doc.ID)
		if err != nil {
			return fmt.Errorf("store embedding %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: chunk %s", ErrNotFound, id)
		}
	}

	if err := updateDocument(ctx, tx, doc); err != nil {
		return err
	}
	return tx.Commit()
}

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.page_number, c.content, c.embedding, c.created_at`

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var (
		chunk models.Chunk
		page  sql.NullInt64
		blob  []byte
	)
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &page, &chunk.Content, &blob, &chunk.CreatedAt); err != nil {
		return nil, err
	}
	if page.Valid {
		p := int(page.Int64)
		chunk.PageNumber = &p
	}
	if len(blob) > 0 {
		chunk.Embedding = vector.DecodeFloat32s(blob)
	}
	return &chunk, nil
}

// GetChunksByDocument returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks c WHERE c.document_id = ? ORDER BY c.chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ChunkIDs returns the IDs of a document's chunks.
func (s *SQLiteStorage) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunks removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunks(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	return err
}

const readyJoin = ` FROM document_chunks c JOIN documents d ON d.id = c.document_id
	WHERE d.state = 'ready' AND c.embedding IS NOT NULL`

// ReadyChunksByIDs returns the subset of ids whose chunk has an embedding and whose
// document is ready. IDs that fail the join are silently absent from the result.
func (s *SQLiteStorage) ReadyChunksByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		batch := ids[start:end]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+chunkColumns+readyJoin+` AND c.id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			chunk, err := scanChunk(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[chunk.ID] = chunk
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// ReadyChunks streams every embedded chunk of every ready document.
func (s *SQLiteStorage) ReadyChunks(ctx context.Context) iter.Seq2[*models.Chunk, error] {
	return func(yield func(*models.Chunk, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+chunkColumns+readyJoin+` ORDER BY c.document_id, c.chunk_index`)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			chunk, err := scanChunk(rows)
			if !yield(chunk, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// CountDocuments returns the number of documents per state.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (map[models.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM documents GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[models.State(state)] = n
	}
	return counts, rows.Err()
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// CountReadyEmbeddings returns the number of searchable chunks.
func (s *SQLiteStorage) CountReadyEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+readyJoin).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
