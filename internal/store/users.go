package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ragnote/ragcore/internal/querycache"
)

// CreateUser inserts an account and returns it. Duplicate usernames and
// emails map to their sentinels.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	res, err := s.client.DB().ExecContext(ctx, s.rebind(
		`INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)`),
		username, email, passwordHash)
	if err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		// postgres does not support LastInsertId; fall back to a lookup
		return s.GetUserByUsername(ctx, username)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	key := querycache.Key("user", fmt.Sprintf("%d", id))
	var user User
	if s.cache != nil && s.cache.Get(ctx, key, &user) {
		return &user, nil
	}

	err := s.client.DB().GetContext(ctx, &user, s.rebind(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, user, userCacheTTL)
	}
	return &user, nil
}

// GetUserByUsername fetches a user by login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	key := querycache.Key("user_by_name", username)
	var user User
	if s.cache != nil && s.cache.Get(ctx, key, &user) {
		return &user, nil
	}

	err := s.client.DB().GetContext(ctx, &user, s.rebind(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, user, userCacheTTL)
	}
	return &user, nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.client.DB().GetContext(ctx, &user, s.rebind(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE email = ?`), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// UpdatePassword replaces a user's password hash and drops cached copies.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.client.DB().ExecContext(ctx, s.rebind(
		`UPDATE users SET password_hash = ? WHERE id = ?`), passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.invalidateUser(ctx, userID)
	return nil
}

func (s *Store) invalidateUser(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	user, err := s.getUserUncached(ctx, userID)
	s.cache.Delete(ctx, querycache.Key("user", fmt.Sprintf("%d", userID)))
	if err == nil {
		s.cache.Delete(ctx, querycache.Key("user_by_name", user.Username))
	}
}

func (s *Store) getUserUncached(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := s.client.DB().GetContext(ctx, &user, s.rebind(
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`), userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
