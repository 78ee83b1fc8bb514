package graphstore

import "context"

// Relation is a directed, named edge between two entities.
type Relation struct {
	Source       string `json:"source"`
	Relationship string `json:"relationship"`
	Destination  string `json:"destination"`
}

// Filters scope graph operations. Recognized keys are userId, agentId and runId.
type Filters map[string]any

// Provider persists entity relations.
type Provider interface {
	UpsertRelations(ctx context.Context, relations []Relation, filters Filters) error
	QueryRelations(ctx context.Context, filters Filters, limit int) ([]Relation, error)
	// DeleteRelations removes every entity in scope. Empty filters clear the graph.
	DeleteRelations(ctx context.Context, filters Filters) error
}

// scopeKeys maps filter keys to node properties.
var scopeKeys = []struct{ filter, prop string }{
	{"userId", "user_id"},
	{"agentId", "agent_id"},
	{"runId", "run_id"},
}
