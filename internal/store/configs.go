package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveConfigSnapshot upserts a user's provider config JSON. API keys inside
// the snapshot arrive already encrypted.
func (s *Store) SaveConfigSnapshot(ctx context.Context, userID int64, configJSON string) error {
	_, err := s.client.DB().ExecContext(ctx, s.rebind(`
		INSERT INTO user_configs (user_id, config_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = CURRENT_TIMESTAMP`),
		userID, configJSON)
	if err != nil {
		return fmt.Errorf("save config snapshot: %w", err)
	}
	return nil
}

// LoadConfigSnapshot returns a user's stored config JSON.
func (s *Store) LoadConfigSnapshot(ctx context.Context, userID int64) (string, error) {
	var configJSON string
	err := s.client.DB().GetContext(ctx, &configJSON, s.rebind(
		`SELECT config_json FROM user_configs WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load config snapshot: %w", err)
	}
	return configJSON, nil
}

// ListConfigSnapshots returns every stored snapshot, keyed by user id.
// Called once at startup to rehydrate the in-memory config store.
func (s *Store) ListConfigSnapshots(ctx context.Context) (map[int64]string, error) {
	rows, err := s.client.DB().QueryxContext(ctx,
		`SELECT user_id, config_json FROM user_configs`)
	if err != nil {
		return nil, fmt.Errorf("list config snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var userID int64
		var configJSON string
		if err := rows.Scan(&userID, &configJSON); err != nil {
			return nil, fmt.Errorf("scan config snapshot: %w", err)
		}
		out[userID] = configJSON
	}
	return out, rows.Err()
}

// DeleteConfigSnapshot removes a user's stored config.
func (s *Store) DeleteConfigSnapshot(ctx context.Context, userID int64) error {
	_, err := s.client.DB().ExecContext(ctx, s.rebind(
		`DELETE FROM user_configs WHERE user_id = ?`), userID)
	if err != nil {
		return fmt.Errorf("delete config snapshot: %w", err)
	}
	return nil
}
