package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetValue reads a key from the kv table.
//
// Returns:
//   - string: Stored value ("" when absent)
//   - bool: Whether the key exists
//   - error: nil on success, otherwise the underlying query error
func (db *DB) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading kv %s: %w", key, err)
	}
	return value, true, nil
}

// SetValue upserts a key in the kv table.
func (db *DB) SetValue(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("writing kv %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes a key from the kv table. Missing keys are not an error.
func (db *DB) DeleteValue(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting kv %s: %w", key, err)
	}
	return nil
}
