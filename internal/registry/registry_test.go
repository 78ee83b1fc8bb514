package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/embedding"
)

type stubEmbedder struct{ tag string }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (s *stubEmbedder) Dimension() int { return 0 }

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := New(zap.NewNop())
	r.RegisterEmbedder("x", func(config.EmbedderConfig, *zap.Logger) (embedding.Provider, error) {
		return &stubEmbedder{tag: "first"}, nil
	})
	r.RegisterEmbedder("x", func(config.EmbedderConfig, *zap.Logger) (embedding.Provider, error) {
		return &stubEmbedder{tag: "second"}, nil
	})

	p, err := r.Embedder("x", config.EmbedderConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.(*stubEmbedder).tag; got != "second" {
		t.Errorf("got %q, want second", got)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := New(zap.NewNop())
	for _, n := range []string{"b", "a"} {
		r.RegisterEmbedder(n, func(config.EmbedderConfig, *zap.Logger) (embedding.Provider, error) {
			return &stubEmbedder{}, nil
		})
	}

	_, err := r.Embedder("nope", config.EmbedderConfig{})
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("got %v, want *UnknownProviderError", err)
	}
	if unknown.Category != CategoryEmbedding || unknown.Name != "nope" {
		t.Errorf("got %+v", unknown)
	}
	if !reflect.DeepEqual(unknown.Known, []string{"a", "b"}) {
		t.Errorf("got known %v, want [a b]", unknown.Known)
	}

	// Names from other categories do not leak.
	_, err = r.LLM("a", config.LLMConfig{})
	if !errors.As(err, &unknown) || len(unknown.Known) != 0 {
		t.Errorf("got %v", err)
	}
}

func TestRegistryCheck(t *testing.T) {
	r := New(zap.NewNop())
	built := 0
	r.RegisterEmbedder("a", func(config.EmbedderConfig, *zap.Logger) (embedding.Provider, error) {
		built++
		return &stubEmbedder{}, nil
	})

	if err := r.Check(CategoryEmbedding, "a"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := r.Check(CategoryEmbedding, "b")
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) || unknown.Name != "b" || !reflect.DeepEqual(unknown.Known, []string{"a"}) {
		t.Errorf("got %v", err)
	}
	if built != 0 {
		t.Errorf("Check constructed %d providers", built)
	}
}

func TestRegistryConstructionError(t *testing.T) {
	r := New(zap.NewNop())
	boom := fmt.Errorf("bad endpoint")
	r.RegisterEmbedder("broken", func(config.EmbedderConfig, *zap.Logger) (embedding.Provider, error) {
		return nil, boom
	})

	_, err := r.Embedder("broken", config.EmbedderConfig{})
	var ce *ProviderConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want *ProviderConstructionError", err)
	}
	if ce.Name != "broken" || ce.Category != CategoryEmbedding {
		t.Errorf("got %+v", ce)
	}
	if !errors.Is(err, boom) {
		t.Error("cause not unwrapped")
	}
}

func TestRegistryPassesConfig(t *testing.T) {
	r := New(zap.NewNop())
	var got config.EmbedderConfig
	r.RegisterEmbedder("x", func(cfg config.EmbedderConfig, _ *zap.Logger) (embedding.Provider, error) {
		got = cfg
		return &stubEmbedder{}, nil
	})
	want := config.EmbedderConfig{APIKey: "k", Model: "m", Dimension: 8}
	if _, err := r.Embedder("x", want); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := New(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.RegisterEmbedder(fmt.Sprintf("p%d", i), func(config.EmbedderConfig, *zap.Logger) (embedding.Provider, error) {
				return &stubEmbedder{}, nil
			})
		}(i)
		go func() {
			defer wg.Done()
			r.Names(CategoryEmbedding)
			r.Embedder("p0", config.EmbedderConfig{})
		}()
	}
	wg.Wait()
	if n := len(r.Names(CategoryEmbedding)); n != 20 {
		t.Errorf("got %d names, want 20", n)
	}
}

func TestDefaultBuiltins(t *testing.T) {
	r := Default()
	if Default() != r {
		t.Fatal("Default returned a different registry")
	}
	want := map[Category][]string{
		CategoryEmbedding:   {"azure_openai", "google", "mistral", "ollama", "openai"},
		CategoryLLM:         {"anthropic", "deepseek", "google", "groq", "mistral", "ollama", "openai"},
		CategoryVectorStore: {"memory", "qdrant", "redis"},
		CategoryGraphStore:  {"memgraph", "neo4j"},
	}
	for c, names := range want {
		if got := r.Names(c); !reflect.DeepEqual(got, names) {
			t.Errorf("%s: got %v, want %v", c, got, names)
		}
	}
}

func TestBuiltinsConstructWithoutNetwork(t *testing.T) {
	r := Default()
	if _, err := r.Embedder("openai", config.EmbedderConfig{APIKey: "k"}); err != nil {
		t.Errorf("openai embedder: %v", err)
	}
	if _, err := r.Embedder("azure_openai", config.EmbedderConfig{APIKey: "k"}); err == nil {
		t.Error("azure_openai without url should fail construction")
	}
	if _, err := r.LLM("groq", config.LLMConfig{APIKey: "k"}); err != nil {
		t.Errorf("groq llm: %v", err)
	}
	vs, err := r.VectorStore("memory", config.VectorStoreConfig{CollectionName: "c", Dimension: 4})
	if err != nil {
		t.Fatalf("memory vector store: %v", err)
	}
	if _, err := vs.List(context.Background(), nil, 1); err != nil {
		t.Errorf("List on fresh store: %v", err)
	}
	if _, err := r.VectorStore("qdrant", config.VectorStoreConfig{CollectionName: "c"}); err != nil {
		t.Errorf("qdrant store: %v", err)
	}
	if _, err := r.GraphStore("neo4j", config.GraphStoreConfig{Config: config.Neo4jConfig{URL: "bolt://localhost:7687"}}); err != nil {
		t.Errorf("neo4j store: %v", err)
	}
}
