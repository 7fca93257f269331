package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/0x6d61/warden/internal/severity"
)

// timeLayout is fixed-width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// dbPath is the path to the SQLite database file; use ":memory:" for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			plugin       TEXT NOT NULL,
			target       TEXT DEFAULT '',
			status       TEXT DEFAULT '',
			severity     INTEGER DEFAULT 0,
			summary      TEXT DEFAULT '',
			error        TEXT DEFAULT '',
			result_json  TEXT DEFAULT '',
			created_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create table: %w", err)
	}

	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_tasks_finished_at ON tasks(finished_at);
	`
	if _, err := db.Exec(createIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record persists a task. An empty ID is replaced by a new UUID and zero
// timestamps by the current time. Recording an existing ID replaces it.
func (s *SQLiteStore) Record(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.FinishedAt.IsZero() {
		task.FinishedAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = task.FinishedAt
	}

	query := `
		INSERT INTO tasks (id, kind, plugin, target, status, severity, summary, error, result_json, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind        = excluded.kind,
			plugin      = excluded.plugin,
			target      = excluded.target,
			status      = excluded.status,
			severity    = excluded.severity,
			summary     = excluded.summary,
			error       = excluded.error,
			result_json = excluded.result_json,
			finished_at = excluded.finished_at
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		string(task.Kind),
		task.Plugin,
		task.Target,
		task.Status,
		int(task.Severity),
		task.Summary,
		task.Error,
		string(task.Result),
		task.CreatedAt.UTC().Format(timeLayout),
		task.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: record task: %w", err)
	}
	return nil
}

// Get retrieves a task by its ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	query := `
		SELECT id, kind, plugin, target, status, severity, summary, error, result_json, created_at, finished_at
		FROM tasks WHERE id = ?
	`
	var (
		t                   Task
		kind, result        string
		sev                 int
		createdAt, finished string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &kind, &t.Plugin, &t.Target, &t.Status, &sev,
		&t.Summary, &t.Error, &result, &createdAt, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("history: scan row: %w", err)
	}

	t.Kind = Kind(kind)
	t.Severity = severity.Level(sev)
	if result != "" {
		t.Result = []byte(result)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns task summaries, most recent first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Summary, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Plugin != "" {
		where = append(where, "plugin = ? COLLATE NOCASE")
		args = append(args, f.Plugin)
	}
	if f.MinSeverity > severity.Info {
		where = append(where, "severity >= ?")
		args = append(args, int(f.MinSeverity))
	}

	query := `SELECT id, kind, plugin, target, status, severity, summary, finished_at FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list tasks: %w", err)
	}
	defer rows.Close()

	summaries := []*Summary{}
	for rows.Next() {
		var (
			sum      Summary
			kind     string
			sev      int
			finished string
		)
		if err := rows.Scan(&sum.ID, &kind, &sum.Plugin, &sum.Target, &sum.Status, &sev, &sum.Summary, &finished); err != nil {
			return nil, fmt.Errorf("history: scan summary row: %w", err)
		}
		sum.Kind = Kind(kind)
		sum.Severity = severity.Level(sev)
		if sum.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate rows: %w", err)
	}
	return summaries, nil
}

// Delete removes a task by its ID. Deleting an unknown ID is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("history: delete task: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Cleanup removes tasks that finished more than maxAge ago.
// It returns the number of deleted tasks.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(timeLayout)

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup tasks: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: rows affected: %w", err)
	}
	return deleted, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand may use RFC 3339.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("history: parse time %q: %w", s, err)
		}
	}
	return t, nil
}
