package history

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// PostgresStore keeps history in PostgreSQL.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects, pings and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL history store connected")
	return s, nil
}

// migrate executes every embedded .up.sql file in name order.
func (s *PostgresStore) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Debug("Migration applied", zap.String("file", f))
	}
	return nil
}

// Add inserts one entry.
func (s *PostgresStore) Add(ctx context.Context, e Entry) error {
	e = prepare(e)
	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_history (id, memory_id, previous_value, new_value, action, created_at, updated_at, is_deleted)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)`,
		e.ID, e.MemoryID, e.PreviousValue, e.NewValue, string(e.Action), e.CreatedAt, e.UpdatedAt, e.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("add history %s: %w", e.MemoryID, err)
	}
	return nil
}

// List returns the entries for memoryID ordered by creation time.
func (s *PostgresStore) List(ctx context.Context, memoryID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, memory_id, COALESCE(previous_value, ''), COALESCE(new_value, ''),
		       action, created_at, updated_at, is_deleted
		FROM memory_history
		WHERE memory_id = $1
		ORDER BY created_at ASC, id ASC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", memoryID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		var action string
		err := row.Scan(&e.ID, &e.MemoryID, &e.PreviousValue, &e.NewValue, &action, &e.CreatedAt, &e.UpdatedAt, &e.IsDeleted)
		e.Action = Action(action)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

// Reset deletes every entry.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE memory_history`); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
