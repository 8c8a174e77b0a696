package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ragnote/ragcore/internal/querycache"
)

// CreateConversation opens a new conversation for a user.
func (s *Store) CreateConversation(ctx context.Context, userID int64, title string) (*Conversation, error) {
	id := uuid.NewString()
	_, err := s.client.DB().ExecContext(ctx, s.rebind(
		`INSERT INTO conversations (id, user_id, title) VALUES (?, ?, ?)`),
		id, userID, title)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.invalidateConversations(ctx, userID, id)
	return s.GetConversation(ctx, id)
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	key := querycache.Key("conversation", id)
	var conv Conversation
	if s.cache != nil && s.cache.Get(ctx, key, &conv) {
		return &conv, nil
	}

	err := s.client.DB().GetContext(ctx, &conv, s.rebind(
		`SELECT id, user_id, title, documents_loaded, created_at, updated_at
		 FROM conversations WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, conv, conversationCacheTTL)
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	key := querycache.Key("conversations", fmt.Sprintf("%d", userID))
	var convs []Conversation
	if s.cache != nil && s.cache.Get(ctx, key, &convs) {
		return convs, nil
	}

	err := s.client.DB().SelectContext(ctx, &convs, s.rebind(
		`SELECT id, user_id, title, documents_loaded, created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	if s.cache != nil && len(convs) > 0 {
		s.cache.Set(ctx, key, convs, conversationCacheTTL)
	}
	return convs, nil
}

// ListAllConversations returns every conversation, for expiry cleanup.
func (s *Store) ListAllConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	err := s.client.DB().SelectContext(ctx, &convs,
		`SELECT id, user_id, title, documents_loaded, created_at, updated_at FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("list all conversations: %w", err)
	}
	return convs, nil
}

// UpdateConversationTitle renames a conversation. A rename counts as
// activity, so updated_at is refreshed to keep the conversation alive.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	res, err := s.client.DB().ExecContext(ctx, s.rebind(
		`UPDATE conversations SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`), title, id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.invalidateByID(ctx, id)
	return nil
}

// SetDocumentsLoaded marks that a conversation has indexed documents.
func (s *Store) SetDocumentsLoaded(ctx context.Context, id string) error {
	res, err := s.client.DB().ExecContext(ctx, s.rebind(
		`UPDATE conversations SET documents_loaded = ? WHERE id = ?`), true, id)
	if err != nil {
		return fmt.Errorf("set documents loaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.invalidateByID(ctx, id)
	return nil
}

// TouchConversation bumps updated_at to now.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	_, err := s.client.DB().ExecContext(ctx, s.rebind(
		`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	s.invalidateByID(ctx, id)
	return nil
}

// DeleteConversation removes a conversation; messages cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.client.DB().ExecContext(ctx, s.rebind(
		`DELETE FROM conversations WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.invalidateConversations(ctx, conv.UserID, id)
	return nil
}

// AppendExchange persists a user/assistant message pair and bumps the
// conversation's updated_at in one transaction, so a partial turn can never
// be observed.
func (s *Store) AppendExchange(ctx context.Context, conversationID, userContent, assistantContent string) error {
	err := s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		insert := s.rebind(
			`INSERT INTO messages (conversation_id, role, content) VALUES (?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, conversationID, "user", userContent); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, conversationID, "assistant", assistantContent); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`),
			conversationID); err != nil {
			return fmt.Errorf("bump conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateByID(ctx, conversationID)
	return nil
}

// ListMessages returns a conversation's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	err := s.client.DB().SelectContext(ctx, &msgs, s.rebind(
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// CountMessages reports how many messages a conversation holds.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.client.DB().GetContext(ctx, &count, s.rebind(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`), conversationID)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// invalidateByID drops cached copies of one conversation and its owner's
// list.
func (s *Store) invalidateByID(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	var userID int64
	err := s.client.DB().GetContext(ctx, &userID, s.rebind(
		`SELECT user_id FROM conversations WHERE id = ?`), id)
	s.cache.Delete(ctx, querycache.Key("conversation", id))
	if err == nil {
		s.cache.Delete(ctx, querycache.Key("conversations", fmt.Sprintf("%d", userID)))
	}
}

func (s *Store) invalidateConversations(ctx context.Context, userID int64, id string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, querycache.Key("conversation", id))
	s.cache.Delete(ctx, querycache.Key("conversations", fmt.Sprintf("%d", userID)))
}
