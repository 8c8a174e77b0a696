package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/config"
	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/querycache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Type:        "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "store.db"),
		PoolSize:    4,
		PoolTimeout: 2 * time.Second,
	}
	client, err := db.NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))
	return New(client, querycache.New(nil, zap.NewNop()), zap.NewNop())
}

func mustUser(t *testing.T, s *Store, username string) *User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), username, username+"@example.com", "hash")
	require.NoError(t, err)
	return user
}

func TestCreateUserAndDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "alice")
	assert.Equal(t, "alice", user.Username)
	assert.NotZero(t, user.ID)

	_, err := s.CreateUser(ctx, "alice", "other@example.com", "h")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = s.CreateUser(ctx, "bob", "alice@example.com", "h")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestGetUserLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustUser(t, s, "carol")

	byID, err := s.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Username, byID.Username)

	byName, err := s.GetUserByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byEmail, err := s.GetUserByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = s.GetUserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserReadsAreCached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "dave")
	_, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)

	// mutate behind the cache; the cached copy should still be served
	_, err = s.client.DB().ExecContext(ctx,
		`UPDATE users SET username = 'changed' WHERE id = ?`, user.ID)
	require.NoError(t, err)

	again, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "dave", again.Username)
}

func TestUpdatePasswordInvalidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "erin")
	_, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, s.UpdatePassword(ctx, user.ID, "newhash"))

	fresh, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", fresh.PasswordHash)

	assert.ErrorIs(t, s.UpdatePassword(ctx, 9999, "h"), ErrNotFound)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "frank")
	conv, err := s.CreateConversation(ctx, user.ID, "First chat")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "First chat", conv.Title)
	assert.False(t, conv.DocumentsLoaded)

	require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "Renamed"))
	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	require.NoError(t, s.SetDocumentsLoaded(ctx, conv.ID))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.DocumentsLoaded)

	list, err := s.ListConversations(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameRefreshesActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "kate")
	conv, err := s.CreateConversation(ctx, user.ID, "old title")
	require.NoError(t, err)

	// age the conversation, then rename it
	_, err = s.client.DB().ExecContext(ctx,
		`UPDATE conversations SET updated_at = datetime('now', '-29 days') WHERE id = ?`, conv.ID)
	require.NoError(t, err)

	require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "new title"))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)
}

func TestAppendExchangeAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "gwen")
	conv, err := s.CreateConversation(ctx, user.ID, "chat")
	require.NoError(t, err)

	require.NoError(t, s.AppendExchange(ctx, conv.ID, "question?", "answer."))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "question?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)

	count, err := s.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMessagesCascadeOnDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "hank")
	conv, err := s.CreateConversation(ctx, user.ID, "chat")
	require.NoError(t, err)
	require.NoError(t, s.AppendExchange(ctx, conv.ID, "q", "a"))

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDocumentsMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "iris")
	conv, err := s.CreateConversation(ctx, user.ID, "chat")
	require.NoError(t, err)

	require.NoError(t, s.RecordDocument(ctx, &UserDocument{
		UserID:         user.ID,
		ConversationID: conv.ID,
		Filename:       "paper.pdf",
		FileSize:       2048,
		ChunkCount:     7,
	}))

	docs, err := s.ListDocuments(ctx, user.ID, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "paper.pdf", docs[0].Filename)
	assert.Equal(t, 7, docs[0].ChunkCount)

	scoped, err := s.ListDocuments(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)

	n, err := s.DeleteDocuments(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestConfigSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "jane")

	_, err := s.LoadConfigSnapshot(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveConfigSnapshot(ctx, user.ID, `{"llm_model":"m1"}`))
	require.NoError(t, s.SaveConfigSnapshot(ctx, user.ID, `{"llm_model":"m2"}`))

	got, err := s.LoadConfigSnapshot(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"llm_model":"m2"}`, got)

	all, err := s.ListConfigSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"llm_model":"m2"}`, all[user.ID])

	require.NoError(t, s.DeleteConfigSnapshot(ctx, user.ID))
	_, err = s.LoadConfigSnapshot(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedConversationReadHitsDBOnce(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	client := db.NewClientWithDB(sqlx.NewDb(mockDB, "sqlmock"), time.Second, zap.NewNop())
	s := New(client, querycache.New(nil, zap.NewNop()), zap.NewNop())
	ctx := context.Background()

	rows := sqlmock.NewRows(
		[]string{"id", "user_id", "title", "documents_loaded", "created_at", "updated_at"}).
		AddRow("conv-1", 1, "t", false, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, user_id, title").WillReturnRows(rows)

	_, err = s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)

	// second read must be served from cache; no further query expected
	got, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", got.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
