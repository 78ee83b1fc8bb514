package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// MemoryStore is an embedded, process-local vector store backed by
// chromem-go. Contents are lost when the process exits.
type MemoryStore struct {
	name      string
	dimension int
	logger    *zap.Logger

	mu       sync.RWMutex
	db       *chromem.DB
	col      *chromem.Collection
	payloads map[string]map[string]any
	order    []string // insertion order for List
}

// NewMemoryStore creates an empty in-memory collection. dimension 0 accepts
// the size of the first vector.
func NewMemoryStore(collection string, dimension int, logger *zap.Logger) (*MemoryStore, error) {
	s := &MemoryStore{name: collection, dimension: dimension, logger: logger}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) init() error {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.name, err)
	}
	s.db = db
	s.col = col
	s.payloads = make(map[string]map[string]any)
	s.order = nil
	return nil
}

// Upsert inserts or replaces the point with the given id.
func (s *MemoryStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = len(vector)
	}
	if len(vector) != s.dimension {
		return fmt.Errorf("upsert %s: vector has %d dimensions, collection expects %d", id, len(vector), s.dimension)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: vector,
		Metadata:  stringMetadata(payload),
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	if _, exists := s.payloads[id]; !exists {
		s.order = append(s.order, id)
	}
	s.payloads[id] = copyPayload(payload)
	return nil
}

// Query returns the topK nearest points that match filters.
func (s *MemoryStore) Query(ctx context.Context, vector []float32, filters Filters, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.col.Count()
	if topK < n {
		n = topK
	}
	if n <= 0 {
		return nil, nil
	}
	hits, err := s.col.QueryEmbedding(ctx, vector, n, whereClause(filters), nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.name, err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		payload, ok := s.payloads[h.ID]
		if !ok || !filters.Matches(payload) {
			continue
		}
		results = append(results, Result{
			ID:      h.ID,
			Payload: copyPayload(payload),
			Score:   score(float64(h.Similarity)),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Score > *results[j].Score
	})
	return results, nil
}

// Get returns the point with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Result{ID: id, Payload: copyPayload(payload)}, nil
}

// List returns up to limit points matching filters in insertion order.
func (s *MemoryStore) List(ctx context.Context, filters Filters, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Result
	for _, id := range s.order {
		payload := s.payloads[id]
		if !filters.Matches(payload) {
			continue
		}
		out = append(out, Result{ID: id, Payload: copyPayload(payload)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Delete removes a point. Deleting a missing id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payloads[id]; !ok {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	delete(s.payloads, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Reset drops all points.
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("resetting in-memory collection", zap.String("collection", s.name))
	return s.init()
}

// whereClause converts scalar filters to chromem's string metadata filter.
func whereClause(filters Filters) map[string]string {
	if len(filters) == 0 {
		return nil
	}
	where := make(map[string]string, len(filters))
	for k, v := range filters {
		if s, ok := scalarString(v); ok {
			where[k] = s
		}
	}
	return where
}

func stringMetadata(payload map[string]any) map[string]string {
	md := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := scalarString(v); ok {
			md[k] = s
		}
	}
	return md
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool, int, int64, float64, float32:
		return fmt.Sprint(x), true
	}
	return "", false
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
