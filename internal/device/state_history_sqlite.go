package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/homegateway/internal/infrastructure/database"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStateRepository implements StateRepository using SQLite.
//
// History rows go to device_state_history; the newest state per device is
// kept in device_state_latest.
type SQLiteStateRepository struct {
	db *database.DB
}

// NewSQLiteStateRepository creates a new SQLite state repository.
func NewSQLiteStateRepository(db *database.DB) *SQLiteStateRepository {
	return &SQLiteStateRepository{db: db}
}

// RecordTransition inserts a history row and upserts the latest state in
// one transaction.
func (r *SQLiteStateRepository) RecordTransition(ctx context.Context, t Transition) error {
	if t.IEEE == "" {
		return ErrInvalidIEEE
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	at := database.FormatTime(t.At)

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_state_history (class, ieee, state, correlation_id, recorded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			string(t.Class), t.IEEE, t.State, t.CorrelationID, at,
		); err != nil {
			return fmt.Errorf("inserting state history: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_state_latest (class, ieee, state, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (class, ieee) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
			string(t.Class), t.IEEE, t.State, at,
		); err != nil {
			return fmt.Errorf("upserting latest state: %w", err)
		}
		return nil
	})
}

// LatestStates returns the latest state per device for class.
func (r *SQLiteStateRepository) LatestStates(ctx context.Context, class Class) (map[string]LatestState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT ieee, state, updated_at FROM device_state_latest WHERE class = ?",
		string(class),
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LatestState)
	for rows.Next() {
		var ls LatestState
		var updatedAt string
		if err := rows.Scan(&ls.IEEE, &ls.State, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning latest state: %w", err)
		}
		if ls.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
			return nil, err
		}
		out[ls.IEEE] = ls
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest states: %w", err)
	}
	return out, nil
}

// GetHistory returns recent transitions for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ieee: Device address
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []StateHistoryEntry: History entries ordered by recorded_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteStateRepository) GetHistory(ctx context.Context, ieee string, limit int) ([]StateHistoryEntry, error) {
	if ieee == "" {
		return nil, ErrInvalidIEEE
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, class, ieee, state, correlation_id, recorded_at
		 FROM device_state_history
		 WHERE ieee = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		ieee,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		var entry StateHistoryEntry
		var class, recordedAt string

		if err := rows.Scan(&entry.ID, &class, &entry.IEEE, &entry.State, &entry.CorrelationID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		entry.Class = Class(class)

		if entry.RecordedAt, err = database.ParseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes history entries older than the given duration.
// Latest-state rows are never pruned.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteStateRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := database.FormatTime(time.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_state_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}
