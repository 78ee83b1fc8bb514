package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jStore stores relations as (:Entity)-[:RELATES {name}]->(:Entity)
// over Bolt. It serves both Neo4j and Memgraph.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a driver. Connectivity is checked on first use.
func NewNeo4jStore(uri, user, password string, logger *zap.Logger) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jStore{driver: driver, logger: logger}, nil
}

// Close shuts down the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// Ping verifies the connection.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// UpsertRelations merges both endpoints and the edge within the scope.
func (s *Neo4jStore) UpsertRelations(ctx context.Context, relations []Relation, filters Filters) error {
	if len(relations) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	scope := scopeParams(filters)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, r := range relations {
			params := map[string]any{
				"source":       normalize(r.Source),
				"destination":  normalize(r.Destination),
				"relationship": normalize(r.Relationship),
			}
			for k, v := range scope {
				params[k] = v
			}
			_, err := tx.Run(ctx,
				`MERGE (s:Entity {name: $source, user_id: $user_id, agent_id: $agent_id, run_id: $run_id})
				 MERGE (d:Entity {name: $destination, user_id: $user_id, agent_id: $agent_id, run_id: $run_id})
				 MERGE (s)-[r:RELATES {name: $relationship}]->(d)
				 ON CREATE SET r.created_at = datetime()
				 SET r.updated_at = datetime()`,
				params)
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upsert relations: %w", err)
	}
	return nil
}

// QueryRelations returns edges whose source is in scope.
func (s *Neo4jStore) QueryRelations(ctx context.Context, filters Filters, limit int) ([]Relation, error) {
	if limit <= 0 {
		limit = 100
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	where, params := whereScope("s", filters)
	params["limit"] = limit
	result, err := session.Run(ctx,
		`MATCH (s:Entity)-[r:RELATES]->(d:Entity)`+where+`
		 RETURN s.name AS source, r.name AS relationship, d.name AS destination
		 ORDER BY r.updated_at DESC LIMIT $limit`,
		params)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}

	var relations []Relation
	for result.Next(ctx) {
		rec := result.Record()
		src, _ := rec.Get("source")
		rel, _ := rec.Get("relationship")
		dst, _ := rec.Get("destination")
		relations = append(relations, Relation{
			Source:       src.(string),
			Relationship: rel.(string),
			Destination:  dst.(string),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read relations: %w", err)
	}
	return relations, nil
}

// DeleteRelations detaches and deletes every entity in scope.
func (s *Neo4jStore) DeleteRelations(ctx context.Context, filters Filters) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	where, params := whereScope("n", filters)
	_, err := session.Run(ctx, `MATCH (n:Entity)`+where+` DETACH DELETE n`, params)
	if err != nil {
		return fmt.Errorf("delete relations: %w", err)
	}
	s.logger.Debug("graph scope deleted", zap.Any("filters", filters))
	return nil
}

// scopeParams returns every scope property, empty when unset. MERGE
// rejects null property values.
func scopeParams(filters Filters) map[string]any {
	params := make(map[string]any, len(scopeKeys))
	for _, k := range scopeKeys {
		v, _ := filters[k.filter].(string)
		params[k.prop] = v
	}
	return params
}

func whereScope(alias string, filters Filters) (string, map[string]any) {
	params := map[string]any{}
	var conds []string
	for _, k := range scopeKeys {
		v, ok := filters[k.filter].(string)
		if !ok || v == "" {
			continue
		}
		conds = append(conds, fmt.Sprintf("%s.%s = $%s", alias, k.prop, k.prop))
		params[k.prop] = v
	}
	if len(conds) == 0 {
		return "", params
	}
	return " WHERE " + strings.Join(conds, " AND "), params
}

// normalize lowercases names and joins words with underscores.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}
