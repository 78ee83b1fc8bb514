package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_history (
	id             TEXT PRIMARY KEY,
	memory_id      TEXT NOT NULL,
	previous_value TEXT,
	new_value      TEXT,
	action         TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT,
	is_deleted     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_history_memory ON memory_history(memory_id, created_at);
`

// SQLiteStore keeps history in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	logger.Debug("history store opened", zap.String("backend", "sqlite"), zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Add inserts one entry.
func (s *SQLiteStore) Add(ctx context.Context, e Entry) error {
	e = prepare(e)
	var updated any
	if e.UpdatedAt != nil {
		updated = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_history (id, memory_id, previous_value, new_value, action, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MemoryID, nullString(e.PreviousValue), nullString(e.NewValue), string(e.Action),
		e.CreatedAt.UTC().Format(time.RFC3339Nano), updated, e.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("add history %s: %w", e.MemoryID, err)
	}
	return nil
}

// List returns the entries for memoryID ordered by creation time.
func (s *SQLiteStore) List(ctx context.Context, memoryID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, previous_value, new_value, action, created_at, updated_at, is_deleted
		FROM memory_history
		WHERE memory_id = ?
		ORDER BY created_at ASC, id ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", memoryID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			prev, next, upd   sql.NullString
			action, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.MemoryID, &prev, &next, &action, &createdAt, &upd, &e.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.PreviousValue = prev.String
		e.NewValue = next.String
		e.Action = Action(action)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if upd.Valid {
			t, _ := time.Parse(time.RFC3339Nano, upd.String)
			e.UpdatedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reset deletes every entry.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_history`); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
