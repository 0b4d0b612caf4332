package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"driftsync/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// StorageError marks a failure of the queue's backing store. A mutation
// that cannot even be queued is a data-loss risk, so callers must surface
// it distinctly from sync failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Queue is a durable FIFO of pending actions backed by SQLite.
// All mutations are serialized behind a single mutex so that concurrent
// enqueue, remove and retry bumps never interleave inconsistently.
type Queue struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zerolog.Logger
}

// Open opens (or creates) the queue database at path.
func Open(path string, logger *zerolog.Logger) (*Queue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to queue database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("action queue opened")
	return &Queue{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS actions (
            seq         INTEGER PRIMARY KEY AUTOINCREMENT,
            id          TEXT UNIQUE NOT NULL,
            kind        TEXT NOT NULL,
            payload     BLOB,
            status      TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL DEFAULT 0,
            last_error  TEXT,
            created_at  DATETIME NOT NULL,
            failed_at   DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

const actionColumns = `seq, id, kind, payload, status, retry_count, max_retries, last_error, created_at, failed_at`

func scanAction(row interface{ Scan(...any) error }) (*models.Action, error) {
	var a models.Action
	err := row.Scan(
		&a.Seq, &a.ID, &a.Kind, &a.Payload, &a.Status,
		&a.RetryCount, &a.MaxRetries, &a.LastError, &a.CreatedAt, &a.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Enqueue appends a new pending action and returns it with id and seq set.
// maxRetries below zero falls back to the package default.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, maxRetries int) (*models.Action, error) {
	if maxRetries < 0 {
		maxRetries = models.DefaultMaxRetries
	}

	action := &models.Action{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		Status:     models.StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.ExecContext(ctx,
		`INSERT INTO actions (id, kind, payload, status, retry_count, max_retries, created_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		action.ID, action.Kind, action.Payload, action.Status, action.MaxRetries, action.CreatedAt,
	)
	if err != nil {
		return nil, storageErr("enqueue", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, storageErr("enqueue: last insert id", err)
	}
	action.Seq = seq

	return action, nil
}

// PeekOldest returns the head of FIFO order without removing it,
// or nil when no pending actions exist.
func (q *Queue) PeekOldest(ctx context.Context) (*models.Action, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE status = ? ORDER BY seq ASC LIMIT 1`,
		models.StatusPending,
	)
	action, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("peek", err)
	}
	return action, nil
}

// Remove deletes the action with the given id. Idempotent when already absent.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
		return storageErr("remove", err)
	}
	return nil
}

// MarkFailed takes the action out of the pending queue but retains it for
// the failed-actions read model.
func (q *Queue) MarkFailed(ctx context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, last_error = ?, failed_at = ? WHERE id = ?`,
		models.StatusFailed, reason, now, id,
	)
	if err != nil {
		return storageErr("mark failed", err)
	}
	return nil
}

// IncrementRetry atomically bumps retry_count and returns the new value.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx,
		`UPDATE actions SET retry_count = retry_count + 1 WHERE id = ?`, id,
	); err != nil {
		return 0, storageErr("increment retry", err)
	}

	var count int
	err := q.db.QueryRowContext(ctx, `SELECT retry_count FROM actions WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return 0, storageErr("increment retry: read back", err)
	}
	return count, nil
}

// List returns all pending actions in submission order.
func (q *Queue) List(ctx context.Context) ([]models.Action, error) {
	return q.listByStatus(ctx, models.StatusPending, "ASC")
}

// FailedActions returns terminally failed actions, newest first.
func (q *Queue) FailedActions(ctx context.Context) ([]models.Action, error) {
	return q.listByStatus(ctx, models.StatusFailed, "DESC")
}

func (q *Queue) listByStatus(ctx context.Context, status, order string) ([]models.Action, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE status = ? ORDER BY seq `+order,
		status,
	)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, storageErr("list: scan", err)
		}
		actions = append(actions, *action)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list: rows", err)
	}
	return actions, nil
}

// PendingCount returns the number of queued actions.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE status = ?`, models.StatusPending,
	).Scan(&count)
	if err != nil {
		return 0, storageErr("pending count", err)
	}
	return count, nil
}

// Clear removes all pending actions. Meant for an explicit user-initiated
// queue reset only; failed actions are kept for diagnostics.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM actions WHERE status = ?`, models.StatusPending,
	); err != nil {
		return storageErr("clear", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}
