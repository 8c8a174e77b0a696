package store

import (
	"context"
	"fmt"
)

// RecordDocument saves upload metadata after a successful ingest.
func (s *Store) RecordDocument(ctx context.Context, doc *UserDocument) error {
	_, err := s.client.DB().ExecContext(ctx, s.rebind(
		`INSERT INTO user_documents (user_id, conversation_id, filename, file_size, chunk_count)
		 VALUES (?, ?, ?, ?, ?)`),
		doc.UserID, doc.ConversationID, doc.Filename, doc.FileSize, doc.ChunkCount)
	if err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	return nil
}

// ListDocuments returns a user's uploads, optionally scoped to one
// conversation, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID int64, conversationID string) ([]UserDocument, error) {
	var docs []UserDocument
	var err error
	if conversationID == "" {
		err = s.client.DB().SelectContext(ctx, &docs, s.rebind(
			`SELECT id, user_id, conversation_id, filename, file_size, chunk_count, uploaded_at
			 FROM user_documents WHERE user_id = ? ORDER BY id DESC`), userID)
	} else {
		err = s.client.DB().SelectContext(ctx, &docs, s.rebind(
			`SELECT id, user_id, conversation_id, filename, file_size, chunk_count, uploaded_at
			 FROM user_documents WHERE user_id = ? AND conversation_id = ? ORDER BY id DESC`),
			userID, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocuments drops all upload records for a user, returning how many
// were removed. Used alongside clearing the tenant's vector store.
func (s *Store) DeleteDocuments(ctx context.Context, userID int64) (int64, error) {
	res, err := s.client.DB().ExecContext(ctx, s.rebind(
		`DELETE FROM user_documents WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
