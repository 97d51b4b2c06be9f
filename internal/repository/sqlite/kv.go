package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/repository"
)

var (
	_ repository.KeyValueStore      = (*DB)(nil)
	_ repository.NavStateRepository = (*DB)(nil)
)

// GetValue returns the blob stored under key, or apperror.ErrNotFound.
func (db *DB) GetValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("cache key", key)
		}
		return nil, fmt.Errorf("sqlite: getting key %s: %w", key, err)
	}
	return value, nil
}

// PutValue stores value under key, replacing any previous value.
func (db *DB) PutValue(ctx context.Context, key string, value []byte) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: putting key %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes key. Deleting an absent key is not an error: the cache
// only cares that the value is gone afterwards.
func (db *DB) DeleteValue(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: deleting key %s: %w", key, err)
	}
	return nil
}

// LoadNavState returns the serialized navigation tree of userID.
func (db *DB) LoadNavState(ctx context.Context, userID string) ([]byte, error) {
	var state []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT state FROM nav_state WHERE user_id = ?`, userID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("navigation state", userID)
		}
		return nil, fmt.Errorf("sqlite: loading nav state for %s: %w", userID, err)
	}
	return state, nil
}

// SaveNavState replaces the navigation tree of userID.
func (db *DB) SaveNavState(ctx context.Context, userID string, state []byte) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO nav_state (user_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		userID, state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving nav state for %s: %w", userID, err)
	}
	return nil
}

// DeleteNavState drops the navigation tree of userID.
func (db *DB) DeleteNavState(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM nav_state WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting nav state for %s: %w", userID, err)
	}
	return nil
}
