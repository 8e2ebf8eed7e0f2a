package delayqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// Message is a leased job.
type Message[T any] struct {
	ID         int64
	Payload    T
	ReadCount  int
	EnqueuedAt time.Time
	VisibleAt  time.Time
}

// Queue is a durable delay queue backed by one SQLite table.
//
// Push is durable before it returns. Lease hides a ready job for a
// visibility window; a job that is not archived inside that window becomes
// ready again, so delivery is at-least-once and handlers must be idempotent.
type Queue[T any] struct {
	db    *sql.DB
	name  string
	table string
	now   func() time.Time

	insertSQL  string
	leaseSQL   string
	archiveSQL string
	deleteSQL  string
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now. Tests use it to step past delays and
// visibility windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New opens the named queue, creating its table and archive table if needed.
//
// Parameters:
//   - ctx: Context for the table creation
//   - db: Shared database handle
//   - name: Queue name, lower-case letters, digits and underscores
//
// Returns:
//   - *Queue[T]: Queue whose payloads are JSON-encoded T values
//   - error: ErrInvalidName or a wrapped ErrUnavailable
func New[T any](ctx context.Context, db *sql.DB, name string, opts ...Option) (*Queue[T], error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	table := "dq_" + name
	q := &Queue[T]{
		db:    db,
		name:  name,
		table: table,
		now:   o.now,

		insertSQL: fmt.Sprintf(`INSERT INTO %s (enqueued_at, vt, payload) VALUES (?, ?, ?)`, table),
		// Claim the oldest ready row in one statement so two consumers can
		// never lease the same job inside one window.
		leaseSQL: fmt.Sprintf(`
			UPDATE %[1]s SET vt = ?, read_ct = read_ct + 1
			WHERE msg_id = (
				SELECT msg_id FROM %[1]s WHERE vt <= ? ORDER BY msg_id LIMIT 1
			)
			RETURNING msg_id, read_ct, enqueued_at, vt, payload`, table),
		archiveSQL: fmt.Sprintf(`
			INSERT INTO %[1]s_archive (msg_id, read_ct, enqueued_at, archived_at, vt, payload)
			SELECT msg_id, read_ct, enqueued_at, ?, vt, payload FROM %[1]s WHERE msg_id = ?`, table),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE msg_id = ?`, table),
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			msg_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			read_ct     INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			vt          INTEGER NOT NULL,
			payload     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_vt_idx ON %[1]s (vt);
		CREATE TABLE IF NOT EXISTS %[1]s_archive (
			msg_id      INTEGER PRIMARY KEY,
			read_ct     INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL,
			archived_at INTEGER NOT NULL,
			vt          INTEGER NOT NULL,
			payload     TEXT NOT NULL
		);`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrUnavailable, table, err)
	}

	return q, nil
}

// Name returns the queue name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push enqueues payload so that it becomes leasable after delay.
// A zero or negative delay makes it ready immediately.
func (q *Queue[T]) Push(ctx context.Context, payload T, delay time.Duration) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("delayqueue %s: encoding payload: %w", q.name, err)
	}
	if delay < 0 {
		delay = 0
	}

	now := q.now()
	res, err := q.db.ExecContext(ctx, q.insertSQL, now.UnixMilli(), now.Add(delay).UnixMilli(), string(body))
	if err != nil {
		return 0, fmt.Errorf("%w: push to %s: %w", ErrUnavailable, q.name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: push to %s: %w", ErrUnavailable, q.name, err)
	}
	return id, nil
}

// Lease claims the oldest ready job and hides it for vt.
// It returns nil, nil when no job is ready.
//
// A payload that fails to decode is still leased; the error carries
// ErrDecode and the message id so the caller can archive it.
func (q *Queue[T]) Lease(ctx context.Context, vt time.Duration) (*Message[T], error) {
	now := q.now()

	var (
		msg         Message[T]
		enqueued    int64
		visible     int64
		payloadText string
	)
	err := q.db.QueryRowContext(ctx, q.leaseSQL, now.Add(vt).UnixMilli(), now.UnixMilli()).
		Scan(&msg.ID, &msg.ReadCount, &enqueued, &visible, &payloadText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lease from %s: %w", ErrUnavailable, q.name, err)
	}

	msg.EnqueuedAt = time.UnixMilli(enqueued)
	msg.VisibleAt = time.UnixMilli(visible)
	if err := json.Unmarshal([]byte(payloadText), &msg.Payload); err != nil {
		return &msg, fmt.Errorf("%w: message %d in %s: %w", ErrDecode, msg.ID, q.name, err)
	}
	return &msg, nil
}

// Archive moves a job to the archive table. It reports false if the job
// was not in the queue (already archived or never existed).
func (q *Queue[T]) Archive(ctx context.Context, id int64) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: archive in %s: %w", ErrUnavailable, q.name, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, q.archiveSQL, q.now().UnixMilli(), id); err != nil {
		return false, fmt.Errorf("%w: archive in %s: %w", ErrUnavailable, q.name, err)
	}
	res, err := tx.ExecContext(ctx, q.deleteSQL, id)
	if err != nil {
		return false, fmt.Errorf("%w: archive in %s: %w", ErrUnavailable, q.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: archive in %s: %w", ErrUnavailable, q.name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: archive in %s: %w", ErrUnavailable, q.name, err)
	}
	return n == 1, nil
}

// Depth returns the number of jobs not yet archived, ready or not.
func (q *Queue[T]) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, q.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: depth of %s: %w", ErrUnavailable, q.name, err)
	}
	return n, nil
}
