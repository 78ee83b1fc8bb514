//go:build integration

package graphstore

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startNeo4j(t *testing.T, ctx context.Context) string {
	t.Helper()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	return uri
}

func TestNeo4jStoreRelations(t *testing.T) {
	ctx := context.Background()
	s, err := NewNeo4jStore(startNeo4j(t, ctx), "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("NewNeo4jStore: %v", err)
	}
	defer s.Close()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	alice := Filters{"userId": "alice"}
	rels := []Relation{
		{Source: "Alice", Relationship: "lives in", Destination: "Paris"},
		{Source: "Alice", Relationship: "likes", Destination: "tea"},
	}
	if err := s.UpsertRelations(ctx, rels, alice); err != nil {
		t.Fatalf("UpsertRelations: %v", err)
	}
	// Upserting again must not duplicate edges.
	if err := s.UpsertRelations(ctx, rels[:1], alice); err != nil {
		t.Fatalf("UpsertRelations again: %v", err)
	}
	if err := s.UpsertRelations(ctx, []Relation{{Source: "Bob", Relationship: "likes", Destination: "jazz"}}, Filters{"userId": "bob"}); err != nil {
		t.Fatalf("UpsertRelations bob: %v", err)
	}

	got, err := s.QueryRelations(ctx, alice, 10)
	if err != nil {
		t.Fatalf("QueryRelations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d relations, want 2: %+v", len(got), got)
	}
	for _, r := range got {
		if r.Source != "alice" {
			t.Errorf("relation out of scope: %+v", r)
		}
	}

	if err := s.DeleteRelations(ctx, alice); err != nil {
		t.Fatalf("DeleteRelations: %v", err)
	}
	got, _ = s.QueryRelations(ctx, alice, 10)
	if len(got) != 0 {
		t.Errorf("got %d relations after delete", len(got))
	}
	got, _ = s.QueryRelations(ctx, Filters{"userId": "bob"}, 10)
	if len(got) != 1 {
		t.Errorf("bob's relations were touched: %+v", got)
	}
}
