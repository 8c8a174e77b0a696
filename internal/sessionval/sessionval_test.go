package sessionval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/config"
	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/store"
)

type fixture struct {
	client    *db.Client
	store     *store.Store
	validator *Validator
	user      *store.User
	other     *store.User
	conv      *store.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Type:        "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "sv.db"),
		PoolSize:    4,
		PoolTimeout: 2 * time.Second,
	}
	client, err := db.NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))

	st := store.New(client, nil, zap.NewNop())
	ctx := context.Background()
	user, err := st.CreateUser(ctx, "owner", "owner@example.com", "h")
	require.NoError(t, err)
	other, err := st.CreateUser(ctx, "other", "other@example.com", "h")
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, user.ID, "chat")
	require.NoError(t, err)

	return &fixture{
		client:    client,
		store:     st,
		validator: New(st, 30, zap.NewNop()),
		user:      user,
		other:     other,
		conv:      conv,
	}
}

func TestValidateOwnedConversation(t *testing.T) {
	f := newFixture(t)
	conv, err := f.validator.Validate(context.Background(), f.conv.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, f.conv.ID, conv.ID)
}

func TestValidateUnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.validator.Validate(context.Background(), "no-such-id", f.user.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateForeignConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.validator.Validate(context.Background(), f.conv.ID, f.other.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestValidateExpired(t *testing.T) {
	f := newFixture(t)
	f.validator.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err := f.validator.Validate(context.Background(), f.conv.ID, f.user.ID)
	require.ErrorIs(t, err, ErrExpired)
	assert.Contains(t, err.Error(), "Last activity was")
	assert.Contains(t, err.Error(), "max: 30 days")
}

func TestActivityResetsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// activity now; clock 20 days ahead stays within the window
	require.NoError(t, f.store.TouchConversation(ctx, f.conv.ID))
	f.validator.now = func() time.Time { return time.Now().Add(20 * 24 * time.Hour) }

	_, err := f.validator.Validate(ctx, f.conv.ID, f.user.ID)
	assert.NoError(t, err)
}

func TestCheckHealthStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.validator.CheckHealth(ctx, f.conv.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.HealthStatus)

	f.validator.now = func() time.Time { return time.Now().Add(25 * 24 * time.Hour) }
	h, err = f.validator.CheckHealth(ctx, f.conv.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "expiring", h.HealthStatus)

	f.validator.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	h, err = f.validator.CheckHealth(ctx, f.conv.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired", h.HealthStatus)
	assert.Equal(t, 0.0, h.ExpiresInDays)
}

func TestCheckHealthInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.validator.CheckHealth(ctx, "missing", f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "invalid", h.HealthStatus)

	h, err = f.validator.CheckHealth(ctx, f.conv.ID, f.other.ID)
	require.NoError(t, err)
	assert.Equal(t, "invalid", h.HealthStatus)
}

func TestHealthCountsMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.AppendExchange(ctx, f.conv.ID, "q", "a"))
	h, err := f.validator.CheckHealth(ctx, f.conv.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.MessageCount)
}

func TestCleanupDeletesOnlyExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateConversation(ctx, f.user.ID, "fresh")
	require.NoError(t, err)

	// age the first conversation past the window
	_, err = f.client.DB().ExecContext(ctx,
		`UPDATE conversations SET updated_at = datetime('now', '-40 days') WHERE id = ?`, f.conv.ID)
	require.NoError(t, err)

	report, err := f.validator.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalConversations)
	assert.Equal(t, 1, report.ExpiredCount)
	assert.Equal(t, 1, report.DeletedCount)
	assert.Equal(t, []string{f.conv.ID}, report.DeletedIDs)

	_, err = f.store.GetConversation(ctx, f.conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCleanupUserScopedToCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	theirs, err := f.store.CreateConversation(ctx, f.other.ID, "theirs")
	require.NoError(t, err)

	// age every conversation past the window
	_, err = f.client.DB().ExecContext(ctx,
		`UPDATE conversations SET updated_at = datetime('now', '-40 days')`)
	require.NoError(t, err)

	report, err := f.validator.CleanupUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalConversations)
	assert.Equal(t, 1, report.DeletedCount)
	assert.Equal(t, []string{f.conv.ID}, report.DeletedIDs)

	_, err = f.store.GetConversation(ctx, f.conv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetConversation(ctx, theirs.ID)
	assert.NoError(t, err, "another user's expired conversation is untouched")
}
