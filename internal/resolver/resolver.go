package resolver

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/embedding"
	"github.com/nidhogg/nuka-memory/internal/graphstore"
	"github.com/nidhogg/nuka-memory/internal/llm"
	"github.com/nidhogg/nuka-memory/internal/registry"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
)

// DimensionMismatchError is returned when the vector store's configured
// dimension disagrees with the embedder's declared output size.
type DimensionMismatchError struct {
	Configured int
	Embedder   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vectorStore.config.dimension is %d but the embedder produces %d-dimensional vectors", e.Configured, e.Embedder)
}

// ResolvedMemoryConfig owns the live providers built from one configuration.
type ResolvedMemoryConfig struct {
	Version     string
	Embedder    embedding.Provider
	LLM         llm.Provider
	VectorStore vectorstore.Provider
	// GraphStore and GraphLLM are nil unless the graph is enabled. GraphLLM
	// is the top-level LLM when no override is configured.
	GraphStore graphstore.Provider
	GraphLLM   llm.Provider

	CollectionName    string
	HistoryDBPath     string
	CustomPrompt      string
	GraphCustomPrompt string
	StoreHistory      bool
}

// Close releases every provider that holds resources. GraphLLM is skipped
// when it aliases LLM.
func (r *ResolvedMemoryConfig) Close() error {
	providers := []any{r.Embedder, r.LLM, r.VectorStore, r.GraphStore}
	if r.GraphLLM != nil && !sameInstance(r.GraphLLM, r.LLM) {
		providers = append(providers, r.GraphLLM)
	}
	var errs []error
	for _, p := range providers {
		if p == nil {
			continue
		}
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// sameInstance compares two providers without panicking on dynamic types
// that cannot be compared.
func sameInstance(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Resolver turns raw configuration into live providers.
type Resolver struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// New creates a resolver over reg.
func New(reg *registry.Registry, logger *zap.Logger) *Resolver {
	return &Resolver{registry: reg, logger: logger}
}

// ResolveJSON decodes data and resolves it.
func (r *Resolver) ResolveJSON(data []byte) (*ResolvedMemoryConfig, error) {
	cfg, err := config.ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return r.ResolveConfig(cfg)
}

// Resolve validates raw and constructs its providers. Validation failures
// are returned as *config.ValidationError before anything is constructed.
func (r *Resolver) Resolve(raw map[string]any) (*ResolvedMemoryConfig, error) {
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}
	return r.ResolveConfig(cfg)
}

// ResolveConfig constructs the providers of an already validated config.
// On failure every provider built so far is closed.
func (r *Resolver) ResolveConfig(cfg *config.MemoryConfig) (res *ResolvedMemoryConfig, err error) {
	out := &ResolvedMemoryConfig{
		Version:        cfg.Version,
		CollectionName: cfg.VectorStore.Config.CollectionName,
		HistoryDBPath:  cfg.HistoryDBPath,
		CustomPrompt:   cfg.CustomPrompt,
		StoreHistory:   cfg.HistoryEnabled(),
	}
	defer func() {
		if err != nil {
			out.Close()
		}
	}()

	out.Embedder, err = r.registry.Embedder(cfg.Embedder.Provider, cfg.Embedder.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Embedder.Config.Cache {
		cached, cerr := embedding.NewCached(out.Embedder, 0)
		if cerr != nil {
			return nil, &registry.ProviderConstructionError{Category: registry.CategoryEmbedding, Name: cfg.Embedder.Provider, Err: cerr}
		}
		out.Embedder = cached
	}

	out.LLM, err = r.registry.LLM(cfg.LLM.Provider, cfg.LLM.Config)
	if err != nil {
		return nil, err
	}

	// Every remaining provider name is checked before the dimension
	// invariant so an unregistered name always surfaces as unknown.
	if err = r.registry.Check(registry.CategoryVectorStore, cfg.VectorStore.Provider); err != nil {
		return nil, err
	}
	graph := cfg.GraphEnabled()
	if graph {
		if err = r.registry.Check(registry.CategoryGraphStore, cfg.GraphStore.Provider); err != nil {
			return nil, err
		}
		if cfg.GraphStore.LLM != nil {
			if err = r.registry.Check(registry.CategoryLLM, cfg.GraphStore.LLM.Provider); err != nil {
				return nil, err
			}
		}
	}

	vsCfg := cfg.VectorStore.Config
	declared := out.Embedder.Dimension()
	if vsCfg.Dimension > 0 && declared > 0 && vsCfg.Dimension != declared {
		return nil, &DimensionMismatchError{Configured: vsCfg.Dimension, Embedder: declared}
	}
	if vsCfg.Dimension == 0 {
		vsCfg.Dimension = declared
	}
	out.VectorStore, err = r.registry.VectorStore(cfg.VectorStore.Provider, vsCfg)
	if err != nil {
		return nil, err
	}

	if graph {
		g := cfg.GraphStore
		out.GraphStore, err = r.registry.GraphStore(g.Provider, *g)
		if err != nil {
			return nil, err
		}
		out.GraphLLM = out.LLM
		if g.LLM != nil {
			out.GraphLLM, err = r.registry.LLM(g.LLM.Provider, g.LLM.Config)
			if err != nil {
				return nil, err
			}
		}
		out.GraphCustomPrompt = g.CustomPrompt
	}

	fields := []zap.Field{
		zap.String("embedder", cfg.Embedder.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("vectorStore", cfg.VectorStore.Provider),
		zap.Int("dimension", vsCfg.Dimension),
	}
	if out.GraphStore != nil {
		fields = append(fields, zap.String("graphStore", cfg.GraphStore.Provider))
	}
	r.logger.Debug("memory config resolved", fields...)
	return out, nil
}
