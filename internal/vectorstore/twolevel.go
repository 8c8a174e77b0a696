package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ragnote/ragcore/internal/metrics"
)

// Two-level retrieval first matches the query against per-document
// summaries, then scans chunks only within the winning documents. It pays
// off once a tenant holds enough chunks that a flat scan gets expensive.
const (
	// DocFilterThreshold is the minimum summary similarity for a document
	// to enter the chunk scan.
	DocFilterThreshold = 0.6
	// MaxFilteredDocuments caps how many documents survive the funnel.
	MaxFilteredDocuments = 3
)

// UpsertSummary stores a document's summary vector for two-level search.
func (s *Store) UpsertSummary(ctx context.Context, docID int64, conversationID, summary string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_summaries (document_id, conversation_id, summary_text, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			summary_text = excluded.summary_text,
			embedding = excluded.embedding`,
		docID, conversationID, summary, EncodeVector(vec))
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// SummaryCount reports how many document summaries a conversation holds.
func (s *Store) SummaryCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM document_summaries WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("count summaries: %w", err)
	}
	return count, nil
}

type summaryRow struct {
	DocumentID int64  `db:"document_id"`
	Embedding  []byte `db:"embedding"`
}

// SearchTwoLevel funnels the search through document summaries before
// ranking chunks. Falls back to a flat search when no summaries exist or
// none clear the threshold.
func (s *Store) SearchTwoLevel(ctx context.Context, query []float32, conversationID *string, topK int) ([]SearchResult, error) {
	if conversationID == nil || *conversationID == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	var summaries []summaryRow
	err := s.db.SelectContext(ctx, &summaries, `
		SELECT document_id, embedding FROM document_summaries
		WHERE conversation_id = ?`, *conversationID)
	if err != nil {
		metrics.VectorSearches.WithLabelValues("two_level", "error").Inc()
		return nil, fmt.Errorf("scan summaries: %w", err)
	}
	if len(summaries) == 0 {
		return s.Search(ctx, query, conversationID, topK)
	}

	items := make([]scored, 0, len(summaries))
	for i, row := range summaries {
		vec, err := DecodeVector(row.Embedding)
		if err != nil {
			continue
		}
		if sim := Cosine(query, vec); sim >= DocFilterThreshold {
			items = append(items, scored{idx: i, score: sim})
		}
	}
	if len(items) == 0 {
		return s.Search(ctx, query, conversationID, topK)
	}

	docIDs := make([]interface{}, 0, MaxFilteredDocuments)
	for _, sc := range selectTopK(items, MaxFilteredDocuments) {
		docIDs = append(docIDs, summaries[sc.idx].DocumentID)
	}

	start := time.Now()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(docIDs)), ",")
	args := append([]interface{}{*conversationID}, docIDs...)
	args = append(args, candidateLimit(topK))
	rows, err := s.scanChunks(ctx, fmt.Sprintf(`
		SELECT c.id, c.document_id, d.filename, c.chunk_text, c.chunk_index, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.conversation_id = ? AND c.conversation_id IS NOT NULL
		  AND c.document_id IN (%s)
		ORDER BY c.id
		LIMIT ?`, placeholders), args...)
	if err != nil {
		metrics.VectorSearches.WithLabelValues("two_level", "error").Inc()
		return nil, err
	}

	results := s.rank(rows, query, topK)
	metrics.VectorSearches.WithLabelValues("two_level", "ok").Inc()
	metrics.VectorSearchDuration.WithLabelValues("two_level").Observe(time.Since(start).Seconds())
	return results, nil
}
