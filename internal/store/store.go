// Package store is the relational persistence layer: users, conversations,
// messages, document metadata, and config snapshots. Hot reads go through
// the query cache; every mutation invalidates the keys it touches.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/db"
	"github.com/ragnote/ragcore/internal/querycache"
)

// Sentinel errors surfaced to the handler layer.
var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already registered")
	ErrEmailTaken    = errors.New("email already registered")
)

// Cache TTLs per read family.
const (
	userCacheTTL         = 10 * time.Minute
	conversationCacheTTL = 5 * time.Minute
)

// Store combines the pool and the query cache.
type Store struct {
	client *db.Client
	cache  *querycache.Cache
	logger *zap.Logger
}

// New wires a store. cache may be nil to disable read caching.
func New(client *db.Client, cache *querycache.Cache, logger *zap.Logger) *Store {
	return &Store{client: client, cache: cache, logger: logger}
}

// rebind translates ? placeholders for the active driver.
func (s *Store) rebind(query string) string {
	return s.client.DB().Rebind(query)
}

// uniqueViolation maps driver-specific unique constraint errors to the
// matching sentinel, using the constraint text to tell username from email.
func uniqueViolation(err error) error {
	var msg string

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique &&
			sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
			return nil
		}
		msg = sqliteErr.Error()
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return nil
		}
		msg = pqErr.Constraint + " " + pqErr.Detail
	}

	if msg == "" {
		return nil
	}
	if strings.Contains(msg, "email") {
		return ErrEmailTaken
	}
	if strings.Contains(msg, "username") {
		return ErrUsernameTaken
	}
	return ErrUsernameTaken
}
