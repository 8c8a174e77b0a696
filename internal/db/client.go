// Package db manages the relational connection pool shared by the stores.
// SQLite is the default backend; PostgreSQL is selected with
// DATABASE_TYPE=postgresql and a DATABASE_URL.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/config"
)

// ErrPoolExhausted reports that no connection became available within the
// acquire timeout.
var ErrPoolExhausted = errors.New("database connection pool exhausted")

// Client wraps the pool with an acquire timeout and a transaction helper.
type Client struct {
	db             *sqlx.DB
	driver         string
	acquireTimeout time.Duration
	logger         *zap.Logger
}

// NewClient opens the configured backend and verifies connectivity.
func NewClient(cfg *config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	var (
		driver string
		dsn    string
	)

	switch cfg.Type {
	case "postgresql":
		driver = "postgres"
		dsn = cfg.URL
	case "sqlite":
		driver = "sqlite3"
		path := cfg.SQLitePath
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		dsn = SQLiteDSN(path)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.PoolRecycle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connected",
		zap.String("type", cfg.Type),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("max_overflow", cfg.MaxOverflow),
	)

	return &Client{
		db:             db,
		driver:         driver,
		acquireTimeout: cfg.PoolTimeout,
		logger:         logger,
	}, nil
}

// NewClientWithDB wraps an existing pool. Used by tests and by callers that
// manage their own sql.DB.
func NewClientWithDB(pool *sqlx.DB, acquireTimeout time.Duration, logger *zap.Logger) *Client {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Client{
		db:             pool,
		driver:         pool.DriverName(),
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
}

// SQLiteDSN builds a sqlite3 DSN with the pragmas every connection needs.
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL" +
		"&_synchronous=NORMAL" +
		"&_cache_size=-64000" +
		"&_temp_store=MEMORY" +
		"&_foreign_keys=ON" +
		"&_busy_timeout=5000"
}

// DB returns the underlying sqlx pool.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Driver returns the sql driver name in use ("sqlite3" or "postgres").
func (c *Client) Driver() string {
	return c.driver
}

// Acquire checks out a connection, waiting at most the pool timeout. The
// caller must Close the returned connection.
func (c *Client) Acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()

	conn, err := c.db.DB.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPoolExhausted
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// WithTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (c *Client) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrPoolExhausted
		}
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Ping verifies the pool is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close shuts down the pool.
func (c *Client) Close() error {
	return c.db.Close()
}
