package memory

import (
	"errors"
	"fmt"

	"github.com/nidhogg/nuka-memory/internal/graphstore"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
)

var (
	// ErrMissingScope is returned when none of userId, agentId or runId is given.
	ErrMissingScope = errors.New("one of userId, agentId or runId is required")
	// ErrNotFound is returned for unknown memory ids.
	ErrNotFound = fmt.Errorf("memory not found: %w", vectorstore.ErrNotFound)
)

// MemoryItem is a stored memory as returned to callers.
type MemoryItem struct {
	ID        string         `json:"id"`
	Memory    string         `json:"memory"`
	Hash      string         `json:"hash,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
	Score     *float64       `json:"score,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchFilters is an open bag of equality filters. userId, agentId and
// runId are the conventional scope keys.
type SearchFilters map[string]any

// SearchResult holds memories by descending relevance plus graph relations.
type SearchResult struct {
	Results   []MemoryItem          `json:"results"`
	Relations []graphstore.Relation `json:"relations,omitempty"`
}

// AddOptions scopes and tunes Add.
type AddOptions struct {
	UserID   string         `json:"userId,omitempty"`
	AgentID  string         `json:"agentId,omitempty"`
	RunID    string         `json:"runId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Infer extracts facts with the LLM instead of storing messages verbatim.
	Infer bool `json:"infer,omitempty"`
	// Categorize tags each stored memory with LLM-assigned categories.
	Categorize bool `json:"categorize,omitempty"`
	// Relations are upserted into the graph store as given.
	Relations []graphstore.Relation `json:"relations,omitempty"`
}

// SearchOptions scopes and limits Search.
type SearchOptions struct {
	Filters SearchFilters `json:"filters,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// Payload keys written to the vector store.
const (
	keyData       = "data"
	keyHash       = "hash"
	keyCreatedAt  = "createdAt"
	keyUpdatedAt  = "updatedAt"
	keyUserID     = "userId"
	keyAgentID    = "agentId"
	keyRunID      = "runId"
	keyCategories = "categories"
)

var scopeKeys = []string{keyUserID, keyAgentID, keyRunID}

func (o AddOptions) filters() SearchFilters {
	f := SearchFilters{}
	if o.UserID != "" {
		f[keyUserID] = o.UserID
	}
	if o.AgentID != "" {
		f[keyAgentID] = o.AgentID
	}
	if o.RunID != "" {
		f[keyRunID] = o.RunID
	}
	return f
}

// hasScope reports whether f carries a non-empty scope key.
func (f SearchFilters) hasScope() bool {
	for _, k := range scopeKeys {
		if s, ok := f[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

func (f SearchFilters) graph() graphstore.Filters {
	g := graphstore.Filters{}
	for _, k := range scopeKeys {
		if v, ok := f[k]; ok {
			g[k] = v
		}
	}
	return g
}

// toItem maps a vector store payload to a MemoryItem.
func toItem(r vectorstore.Result) MemoryItem {
	item := MemoryItem{ID: r.ID, Score: r.Score}
	item.Memory, _ = r.Payload[keyData].(string)
	item.Hash, _ = r.Payload[keyHash].(string)
	item.CreatedAt, _ = r.Payload[keyCreatedAt].(string)
	item.UpdatedAt, _ = r.Payload[keyUpdatedAt].(string)
	for k, v := range r.Payload {
		switch k {
		case keyData, keyHash, keyCreatedAt, keyUpdatedAt:
			continue
		}
		if item.Metadata == nil {
			item.Metadata = map[string]any{}
		}
		item.Metadata[k] = v
	}
	return item
}
