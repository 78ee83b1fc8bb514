package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no point has the given id.
var ErrNotFound = errors.New("vector not found")

// Provider stores vectors with payloads and answers similarity queries.
type Provider interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error
	// Query returns up to topK results ordered by descending score.
	Query(ctx context.Context, vector []float32, filters Filters, topK int) ([]Result, error)
	Get(ctx context.Context, id string) (*Result, error)
	List(ctx context.Context, filters Filters, limit int) ([]Result, error)
	Delete(ctx context.Context, id string) error
	// Reset drops every point in the collection.
	Reset(ctx context.Context) error
}

// Filters are equality constraints on payload keys.
type Filters map[string]any

// Result is a provider-level hit. Score is nil outside similarity queries.
type Result struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
	Score   *float64       `json:"score,omitempty"`
}

// Matches reports whether payload satisfies every filter.
func (f Filters) Matches(payload map[string]any) bool {
	for k, want := range f {
		got, ok := payload[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func score(f float64) *float64 { return &f }
