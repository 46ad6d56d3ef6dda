package errorsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/actionbus/pkg/actionbus/observability"
)

// ErrJournalClosed indicates the journal has been closed.
var ErrJournalClosed = errors.New("error journal closed")

// SQLiteJournal persists dispatch failures to SQLite.
// It records error reports only; correlation state is never persisted.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteJournal opens (or creates) a journal database.
// The path should be a file path (e.g., "./failures.db") or ":memory:" for testing.
func NewSQLiteJournal(path string, logger *slog.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch_failures (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			action_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			handler_id TEXT NOT NULL,
			handler TEXT NOT NULL,
			error_message TEXT NOT NULL,
			failed_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dispatch_failures_correlation
		ON dispatch_failures(correlation_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteJournal{db: db, logger: logger}, nil
}

// Report implements Sink. Write failures are logged, the report itself is
// never returned to the dispatcher. The write ignores cancellation of ctx,
// so a failure reported while its binding stops is still recorded.
func (j *SQLiteJournal) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if saveErr := j.Save(context.WithoutCancel(ctx), NewFailedDispatch(err)); saveErr != nil {
		observability.LogErrorUndelivered(j.logger, err, saveErr)
	}
}

// Save stores one failure.
func (j *SQLiteJournal) Save(ctx context.Context, fd *FailedDispatch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO dispatch_failures
			(action_id, action_type, correlation_id, handler_id, handler, error_message, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fd.ActionID, fd.ActionType, fd.CorrelationID, fd.HandlerID, fd.HandlerName,
		fd.ErrorMessage, fd.FailedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save failure: %w", err)
	}
	return nil
}

// List returns up to limit failures, oldest first. limit <= 0 returns all.
func (j *SQLiteJournal) List(ctx context.Context, limit int) ([]*FailedDispatch, error) {
	return j.query(ctx, `
		SELECT action_id, action_type, correlation_id, handler_id, handler, error_message, failed_at
		FROM dispatch_failures
		ORDER BY seq
		LIMIT ?
	`, sqlLimit(limit))
}

// ListByCorrelation returns every failure recorded for a correlation ID.
func (j *SQLiteJournal) ListByCorrelation(ctx context.Context, correlationID string) ([]*FailedDispatch, error) {
	return j.query(ctx, `
		SELECT action_id, action_type, correlation_id, handler_id, handler, error_message, failed_at
		FROM dispatch_failures
		WHERE correlation_id = ?
		ORDER BY seq
	`, correlationID)
}

func (j *SQLiteJournal) query(ctx context.Context, q string, args ...any) ([]*FailedDispatch, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrJournalClosed
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []*FailedDispatch
	for rows.Next() {
		var fd FailedDispatch
		var ts string
		if err := rows.Scan(&fd.ActionID, &fd.ActionType, &fd.CorrelationID,
			&fd.HandlerID, &fd.HandlerName, &fd.ErrorMessage, &ts); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		fd.FailedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		out = append(out, &fd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// Count returns the number of journaled failures.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatch_failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1 // SQLite: no limit
	}
	return limit
}
