package history

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Action is the kind of mutation recorded in an Entry.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one audit row for a memory mutation.
type Entry struct {
	ID            string     `json:"id"`
	MemoryID      string     `json:"memoryId"`
	PreviousValue string     `json:"previousValue,omitempty"`
	NewValue      string     `json:"newValue,omitempty"`
	Action        Action     `json:"action"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	IsDeleted     bool       `json:"isDeleted"`
}

// Store records and lists memory mutations.
type Store interface {
	Add(ctx context.Context, e Entry) error
	// List returns the entries of one memory, oldest first.
	List(ctx context.Context, memoryID string) ([]Entry, error)
	Reset(ctx context.Context) error
	Close() error
}

// Open selects a backend from path: a postgres:// or postgresql:// URL opens
// a PostgreSQL pool, anything else is a SQLite file (":memory:" included).
func Open(ctx context.Context, path string, logger *zap.Logger) (Store, error) {
	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		return NewPostgresStore(ctx, path, logger)
	}
	return NewSQLiteStore(path, logger)
}

// prepare fills the generated fields of e.
func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}

// Nop discards entries. It is used when history is disabled.
type Nop struct{}

func (Nop) Add(context.Context, Entry) error { return nil }
func (Nop) List(context.Context, string) ([]Entry, error) { return nil, nil }
func (Nop) Reset(context.Context) error { return nil }
func (Nop) Close() error { return nil }
