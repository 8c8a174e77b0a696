// Package vectorstore keeps each tenant's chunk embeddings in a private
// SQLite file and answers top-k cosine searches over them.
package vectorstore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/metrics"
)

// ErrClosed reports use of a store after Close.
var ErrClosed = errors.New("vector store closed")

const vectorSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL,
    file_hash TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    conversation_id TEXT,
    chunk_text TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_conversation ON chunks(conversation_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_conv ON chunks(document_id, conversation_id);

CREATE TABLE IF NOT EXISTS document_summaries (
    document_id INTEGER PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    conversation_id TEXT,
    summary_text TEXT NOT NULL,
    embedding BLOB NOT NULL
);
`

// SearchResult is one retrieved chunk with its similarity to the query.
type SearchResult struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float32 `json:"similarity"`
}

// Store is one tenant's vector index.
type Store struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
}

// Open creates or opens a tenant index file and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.Exec(vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply vector schema: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// FileHash derives the dedup key for a document. Re-uploading the same
// filename replaces its document row.
func FileHash(filename string) string {
	h := md5.Sum([]byte(filename))
	return hex.EncodeToString(h[:])
}

// UpsertDocument registers a document and returns its id. An existing
// document with the same filename is replaced along with its chunks.
func (s *Store) UpsertDocument(ctx context.Context, filename string) (int64, error) {
	hash := FileHash(filename)

	var oldID int64
	err := s.db.GetContext(ctx, &oldID, `SELECT id FROM documents WHERE file_hash = ?`, hash)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, oldID); err != nil {
			return 0, fmt.Errorf("clear replaced chunks: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM document_summaries WHERE document_id = ?`, oldID); err != nil {
			return 0, fmt.Errorf("clear replaced summary: %w", err)
		}
		return oldID, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO documents (filename, file_hash) VALUES (?, ?)`, filename, hash)
		if err != nil {
			return 0, fmt.Errorf("insert document: %w", err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("lookup document: %w", err)
	}
}

// AddChunks stores a document's chunks and their vectors in one
// transaction. texts and vecs must be the same length.
func (s *Store) AddChunks(ctx context.Context, docID int64, conversationID string, texts []string, vecs [][]float32) error {
	if len(texts) != len(vecs) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(texts), len(vecs))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (document_id, conversation_id, chunk_text, chunk_index, embedding)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range texts {
		if _, err := stmt.ExecContext(ctx, docID, conversationID, text, i, EncodeVector(vecs[i])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	metrics.ChunksIngested.Add(float64(len(texts)))
	return nil
}

// candidateLimit bounds how many rows a search scans: at least 100, at most
// 500, scaled by the requested k.
func candidateLimit(topK int) int {
	limit := topK * 50
	if limit < 100 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

type chunkRow struct {
	ID         int64  `db:"id"`
	DocumentID int64  `db:"document_id"`
	Filename   string `db:"filename"`
	Text       string `db:"chunk_text"`
	ChunkIndex int    `db:"chunk_index"`
	Embedding  []byte `db:"embedding"`
}

// Search returns the topK most similar chunks within one conversation.
// A nil conversationID matches nothing: chunks are only ever visible inside
// the conversation that ingested them.
func (s *Store) Search(ctx context.Context, query []float32, conversationID *string, topK int) ([]SearchResult, error) {
	if conversationID == nil || *conversationID == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	start := time.Now()
	rows, err := s.scanChunks(ctx, `
		SELECT c.id, c.document_id, d.filename, c.chunk_text, c.chunk_index, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.conversation_id = ? AND c.conversation_id IS NOT NULL
		ORDER BY c.id
		LIMIT ?`, *conversationID, candidateLimit(topK))
	if err != nil {
		metrics.VectorSearches.WithLabelValues("flat", "error").Inc()
		return nil, err
	}

	results := s.rank(rows, query, topK)
	metrics.VectorSearches.WithLabelValues("flat", "ok").Inc()
	metrics.VectorSearchDuration.WithLabelValues("flat").Observe(time.Since(start).Seconds())
	return results, nil
}

func (s *Store) scanChunks(ctx context.Context, q string, args ...interface{}) ([]chunkRow, error) {
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	return rows, nil
}

// rank scores rows against the query and keeps the topK.
func (s *Store) rank(rows []chunkRow, query []float32, topK int) []SearchResult {
	if len(rows) == 0 {
		return nil
	}

	items := make([]scored, 0, len(rows))
	for i, row := range rows {
		vec, err := DecodeVector(row.Embedding)
		if err != nil {
			s.logger.Warn("Skipping undecodable chunk embedding",
				zap.Int64("chunk_id", row.ID), zap.Error(err))
			continue
		}
		items = append(items, scored{idx: i, score: Cosine(query, vec)})
	}

	best := selectTopK(items, topK)
	out := make([]SearchResult, len(best))
	for i, sc := range best {
		row := rows[sc.idx]
		out[i] = SearchResult{
			ChunkID:    row.ID,
			DocumentID: row.DocumentID,
			Filename:   row.Filename,
			Text:       row.Text,
			ChunkIndex: row.ChunkIndex,
			Similarity: sc.score,
		}
	}
	return out
}

// ChunkCount reports the number of chunks, optionally per conversation.
func (s *Store) ChunkCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	var err error
	if conversationID == "" {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chunks`)
	} else {
		err = s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM chunks WHERE conversation_id = ?`, conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// Documents lists indexed documents with their chunk counts.
func (s *Store) Documents(ctx context.Context) ([]DocumentInfo, error) {
	var docs []DocumentInfo
	err := s.db.SelectContext(ctx, &docs, `
		SELECT d.id, d.filename, COUNT(c.id) AS chunk_count
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		GROUP BY d.id, d.filename
		ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// DocumentInfo summarizes one indexed document.
type DocumentInfo struct {
	ID         int64  `db:"id" json:"id"`
	Filename   string `db:"filename" json:"filename"`
	ChunkCount int    `db:"chunk_count" json:"chunk_count"`
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
