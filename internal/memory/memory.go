// Package memory keeps notable question/answer pairs per user and recalls
// them across conversations. Recall never crosses user boundaries and can
// exclude the conversation currently being answered.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/vectorstore"
)

// Recall tuning.
const (
	// MinSimilarity is the floor below which a memory is not recalled.
	MinSimilarity = 0.7
	// MaxRecalled caps how many memories flow into a prompt.
	MaxRecalled = 3
	// candidateWindow bounds the scan to the most recent entries.
	candidateWindow = 500
)

// Importance bounds.
const (
	minImportance = 0.1
	maxImportance = 1.0
)

// topicKeywords nudge importance up when the exchange looks like durable
// knowledge rather than chit-chat.
var topicKeywords = []string{
	"prefer", "always", "never", "remember", "my name", "i am", "i work",
	"deadline", "project", "goal", "决定", "偏好", "记住", "目标",
}

// Entry is one remembered exchange.
type Entry struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Question       string    `db:"question" json:"question"`
	Answer         string    `db:"answer" json:"answer"`
	Embedding      []byte    `db:"embedding" json:"-"`
	Importance     float64   `db:"importance" json:"importance"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Recalled is an entry with its similarity to the current query.
type Recalled struct {
	Entry
	Similarity float32 `json:"similarity"`
}

// Store persists memories in the shared relational database.
type Store struct {
	client *db.Client
	logger *zap.Logger
}

// New wires a memory store.
func New(client *db.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Importance scores an exchange in [0.1, 1.0]. Longer answers and
// preference-like phrasing score higher; explicit feedback overrides the
// heuristics' direction.
func Importance(question, answer string, feedback int) float64 {
	score := 0.5

	switch n := len([]rune(answer)); {
	case n > 800:
		score += 0.2
	case n > 300:
		score += 0.1
	case n < 50:
		score -= 0.2
	}

	lower := strings.ToLower(question + " " + answer)
	for _, kw := range topicKeywords {
		if strings.Contains(lower, kw) {
			score += 0.15
			break
		}
	}

	if feedback > 0 {
		score += 0.2
	} else if feedback < 0 {
		score -= 0.3
	}

	if score < minImportance {
		score = minImportance
	}
	if score > maxImportance {
		score = maxImportance
	}
	return score
}

// Remember stores an exchange with a computed importance.
func (s *Store) Remember(ctx context.Context, userID int64, conversationID, question, answer string, vec []float32, feedback int) error {
	if question == "" || answer == "" || len(vec) == 0 {
		return nil
	}
	importance := Importance(question, answer, feedback)
	_, err := s.client.DB().ExecContext(ctx, s.client.DB().Rebind(`
		INSERT INTO memory_entries (user_id, conversation_id, question, answer, embedding, importance)
		VALUES (?, ?, ?, ?, ?, ?)`),
		userID, conversationID, question, answer, vectorstore.EncodeVector(vec), importance)
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	return nil
}

// Recall returns up to MaxRecalled memories for userID similar to the
// query, ranked by similarity weighted with importance. Memories from
// excludeConversation are skipped so a conversation never recalls itself.
func (s *Store) Recall(ctx context.Context, userID int64, queryVec []float32, excludeConversation string) ([]Recalled, error) {
	var entries []Entry
	err := s.client.DB().SelectContext(ctx, &entries, s.client.DB().Rebind(`
		SELECT id, user_id, conversation_id, question, answer, embedding, importance, created_at
		FROM memory_entries
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`), userID, candidateWindow)
	if err != nil {
		return nil, fmt.Errorf("recall scan: %w", err)
	}

	type ranked struct {
		entry Recalled
		score float64
	}
	var candidates []ranked
	for _, e := range entries {
		if excludeConversation != "" && e.ConversationID == excludeConversation {
			continue
		}
		vec, err := vectorstore.DecodeVector(e.Embedding)
		if err != nil {
			continue
		}
		sim := vectorstore.Cosine(queryVec, vec)
		if float64(sim) < MinSimilarity {
			continue
		}
		candidates = append(candidates, ranked{
			entry: Recalled{Entry: e, Similarity: sim},
			score: float64(sim) * e.Importance,
		})
	}

	// insertion sort; candidate lists are tiny after the similarity floor
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	n := len(candidates)
	if n > MaxRecalled {
		n = MaxRecalled
	}
	out := make([]Recalled, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.entry)
	}
	return out, nil
}

// Forget removes all memories tied to a conversation.
func (s *Store) Forget(ctx context.Context, userID int64, conversationID string) (int64, error) {
	res, err := s.client.DB().ExecContext(ctx, s.client.DB().Rebind(`
		DELETE FROM memory_entries WHERE user_id = ? AND conversation_id = ?`),
		userID, conversationID)
	if err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
