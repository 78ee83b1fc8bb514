//go:build integration

package vectorstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcqdrant "github.com/testcontainers/testcontainers-go/modules/qdrant"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startQdrant(t *testing.T, ctx context.Context) QdrantConfig {
	t.Helper()
	container, err := tcqdrant.Run(ctx, "qdrant/qdrant:v1.13.4")
	if err != nil {
		t.Fatalf("start qdrant: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	endpoint, err := container.GRPCEndpoint(ctx)
	if err != nil {
		t.Fatalf("qdrant grpc endpoint: %v", err)
	}
	host, port, _ := strings.Cut(endpoint, ":")
	p, _ := strconv.Atoi(port)
	return QdrantConfig{Host: host, Port: p, Collection: "memories", Dimension: 3}
}

func startRedisStack(t *testing.T, ctx context.Context) RedisConfig {
	t.Helper()
	container, err := tcredis.Run(ctx, "redis/redis-stack-server:7.2.0-v10")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return RedisConfig{URL: "redis://" + endpoint, Collection: "memories", Dimension: 3}
}

// exerciseProvider runs the same scenario against any backend.
func exerciseProvider(t *testing.T, p Provider) {
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	if err := p.Upsert(ctx, a, []float32{1, 0, 0}, map[string]any{"data": "likes tea", "userId": "alice"}); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := p.Upsert(ctx, b, []float32{0, 1, 0}, map[string]any{"data": "likes jazz", "userId": "bob"}); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	hits, err := p.Query(ctx, []float32{1, 0.1, 0}, nil, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != a {
		t.Fatalf("got %+v, want %s first", hits, a)
	}
	if hits[0].Score == nil || *hits[0].Score < *hits[1].Score {
		t.Errorf("scores not descending")
	}

	hits, err = p.Query(ctx, []float32{1, 0, 0}, Filters{"userId": "bob"}, 5)
	if err != nil {
		t.Fatalf("filtered Query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != b {
		t.Errorf("got %+v, want only %s", hits, b)
	}

	got, err := p.Get(ctx, a)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload["data"] != "likes tea" {
		t.Errorf("got payload %+v", got.Payload)
	}

	list, err := p.List(ctx, Filters{"userId": "alice"}, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d listed, want 1", len(list))
	}

	if err := p.Delete(ctx, a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	if err := p.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	list, err = p.List(ctx, nil, 10)
	if err != nil {
		t.Fatalf("List after reset: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("got %d points after reset", len(list))
	}
}

// exerciseListAll lists more points than one server page holds.
func exerciseListAll(t *testing.T, p Provider) {
	ctx := context.Background()
	const n = 300
	for i := 0; i < n; i++ {
		payload := map[string]any{"data": "fact " + strconv.Itoa(i), "userId": "carol"}
		if err := p.Upsert(ctx, uuid.NewString(), []float32{1, float32(i), 0}, payload); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}
	if err := p.Upsert(ctx, uuid.NewString(), []float32{0, 0, 1}, map[string]any{"data": "other", "userId": "dave"}); err != nil {
		t.Fatalf("Upsert other: %v", err)
	}

	all, err := p.List(ctx, Filters{"userId": "carol"}, 0)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != n {
		t.Errorf("got %d listed with no limit, want %d", len(all), n)
	}

	some, err := p.List(ctx, Filters{"userId": "carol"}, 270)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(some) != 270 {
		t.Errorf("got %d listed, want 270", len(some))
	}
}

func TestQdrantStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewQdrantStore(startQdrant(t, ctx), zap.NewNop())
	if err != nil {
		t.Fatalf("NewQdrantStore: %v", err)
	}
	defer s.Close()
	exerciseProvider(t, s)
	exerciseListAll(t, s)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStore(startRedisStack(t, ctx), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	exerciseProvider(t, s)
	exerciseListAll(t, s)
}
