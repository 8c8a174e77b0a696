package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Type:        "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "test.db"),
		PoolSize:    4,
		MaxOverflow: 2,
		PoolTimeout: 2 * time.Second,
	}
	client, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))
	return client
}

func TestMigrateAndInsert(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)`,
		"alice", "alice@example.com", "hash")
	require.NoError(t, err)

	var count int
	require.NoError(t, client.DB().GetContext(ctx, &count, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 1, count)
}

func TestUniqueConstraints(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ('bob', 'bob@example.com', 'h')`)
	require.NoError(t, err)

	_, err = client.DB().ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ('bob', 'other@example.com', 'h')`)
	assert.Error(t, err)
}

func TestWithTxCommit(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	err := client.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash) VALUES ('c', 'c@example.com', 'h')`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, client.DB().GetContext(ctx, &count, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 1, count)
}

func TestWithTxRollback(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash) VALUES ('d', 'd@example.com', 'h')`)
		require.NoError(t, execErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, client.DB().GetContext(ctx, &count, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 0, count)
}

func TestAcquireRelease(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	conn, err := client.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}
