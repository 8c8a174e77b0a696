package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/chunker"
	"github.com/ragnote/ragcore/internal/embeddings"
	"github.com/ragnote/ragcore/internal/metrics"
	"github.com/ragnote/ragcore/internal/pdf"
	"github.com/ragnote/ragcore/internal/store"
)

// IngestRequest describes one uploaded document. TempPath is the
// uploaded file on disk; the pipeline removes it when done.
type IngestRequest struct {
	UserID         int64
	Username       string
	ConversationID string
	Filename       string
	TempPath       string
}

// IngestResult reports what was indexed.
type IngestResult struct {
	Filename       string
	ConversationID string
	ChunkCount     int
}

// Ingest runs the document pipeline: rate limit, session validation,
// PDF extraction, chunking, batched embedding, bulk insert into the
// caller's vector store, and the relational document record.
func (p *Pipeline) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	defer func() {
		if err := os.Remove(req.TempPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("Temp file cleanup failed", zap.String("path", req.TempPath), zap.Error(err))
		}
	}()

	if err := p.limiter.Allow(req.Username, "upload"); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, &ValidationError{Msg: "conversation_id is required"}
	}
	if _, err := p.validator.Validate(ctx, req.ConversationID, req.UserID); err != nil {
		return nil, err
	}
	if !pdf.IsPDF(req.TempPath) {
		return nil, &ValidationError{Msg: "Only PDF files are supported"}
	}

	embedder, _, err := p.providers(req.UserID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	text, err := pdf.Extract(req.TempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngest, err)
	}

	chunks := p.chunker.Chunk(text, chunker.Auto)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no usable chunks", ErrIngest)
	}

	vecs, err := embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngest, err)
	}

	if err := p.indexDocument(ctx, embedder, req.UserID, req.ConversationID, req.Filename, chunks, vecs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngest, err)
	}

	var fileSize int64
	if info, statErr := os.Stat(req.TempPath); statErr == nil {
		fileSize = info.Size()
	}
	if err := p.store.RecordDocument(ctx, &store.UserDocument{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Filename:       req.Filename,
		FileSize:       fileSize,
		ChunkCount:     len(chunks),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngest, err)
	}
	if err := p.store.SetDocumentsLoaded(ctx, req.ConversationID); err != nil {
		p.logger.Warn("documents_loaded flag update failed", zap.Error(err))
	}
	p.configs.MarkDocumentsLoaded(req.ConversationID)

	metrics.DocumentsIngested.Inc()
	metrics.ChunksIngested.Add(float64(len(chunks)))
	metrics.IngestDuration.Observe(time.Since(started).Seconds())
	p.logger.Info("Document ingested",
		zap.String("filename", req.Filename),
		zap.String("conversation_id", req.ConversationID),
		zap.Int("chunks", len(chunks)),
	)

	return &IngestResult{
		Filename:       req.Filename,
		ConversationID: req.ConversationID,
		ChunkCount:     len(chunks),
	}, nil
}

// summaryMaxRunes bounds the extractive document summary stored for
// two-level retrieval routing.
const summaryMaxRunes = 600

// indexDocument writes the chunks into the caller's vector store along
// with a summary vector so large corpora can funnel retrieval through
// document summaries. A failed summary write degrades to flat search and
// never fails the ingest.
func (p *Pipeline) indexDocument(ctx context.Context, embedder *embeddings.Service,
	userID int64, conversationID, filename string, chunks []string, vecs [][]float32) error {
	vs, err := p.vectors.Get(userID)
	if err != nil {
		return err
	}
	docID, err := vs.UpsertDocument(ctx, filename)
	if err != nil {
		return err
	}
	if err := vs.AddChunks(ctx, docID, conversationID, chunks, vecs); err != nil {
		return err
	}

	summary := summaryText(chunks)
	if summary == "" {
		return nil
	}
	vec, err := embedder.Embed(ctx, summary)
	if err != nil {
		p.logger.Warn("Summary embedding failed", zap.String("filename", filename), zap.Error(err))
		return nil
	}
	if err := vs.UpsertSummary(ctx, docID, conversationID, summary, vec); err != nil {
		p.logger.Warn("Summary upsert failed", zap.String("filename", filename), zap.Error(err))
	}
	return nil
}

// summaryText builds an extractive summary from the leading chunks.
func summaryText(chunks []string) string {
	var b strings.Builder
	for _, chunk := range chunks {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(chunk)
		if b.Len() >= summaryMaxRunes*4 {
			break
		}
	}
	runes := []rune(b.String())
	if len(runes) > summaryMaxRunes {
		runes = runes[:summaryMaxRunes]
	}
	return strings.TrimSpace(string(runes))
}

// ClearDocuments drops the caller's vector store and document records.
func (p *Pipeline) ClearDocuments(ctx context.Context, userID int64) error {
	if err := p.vectors.Clear(userID); err != nil {
		return err
	}
	if _, err := p.store.DeleteDocuments(ctx, userID); err != nil {
		return err
	}
	return nil
}
