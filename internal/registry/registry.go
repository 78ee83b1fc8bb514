package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/embedding"
	"github.com/nidhogg/nuka-memory/internal/graphstore"
	"github.com/nidhogg/nuka-memory/internal/llm"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
)

// Category is a kind of pluggable provider.
type Category string

const (
	CategoryEmbedding   Category = "embedding"
	CategoryLLM         Category = "llm"
	CategoryVectorStore Category = "vectorStore"
	CategoryGraphStore  Category = "graphStore"
)

// Factories build a provider from its category's configuration.
type (
	EmbedderFactory    func(cfg config.EmbedderConfig, logger *zap.Logger) (embedding.Provider, error)
	LLMFactory         func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error)
	VectorStoreFactory func(cfg config.VectorStoreConfig, logger *zap.Logger) (vectorstore.Provider, error)
	GraphStoreFactory  func(cfg config.GraphStoreConfig, logger *zap.Logger) (graphstore.Provider, error)
)

// UnknownProviderError is returned when no factory is registered for a name.
type UnknownProviderError struct {
	Category Category
	Name     string
	Known    []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown %s provider %q (known: %s)", e.Category, e.Name, strings.Join(e.Known, ", "))
}

// ProviderConstructionError wraps a factory failure.
type ProviderConstructionError struct {
	Category Category
	Name     string
	Err      error
}

func (e *ProviderConstructionError) Error() string {
	return fmt.Sprintf("construct %s provider %q: %v", e.Category, e.Name, e.Err)
}

func (e *ProviderConstructionError) Unwrap() error { return e.Err }

// Registry maps (category, name) to provider factories. Registering a name
// twice replaces the earlier factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[Category]map[string]any
	logger    *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		factories: map[Category]map[string]any{
			CategoryEmbedding:   {},
			CategoryLLM:         {},
			CategoryVectorStore: {},
			CategoryGraphStore:  {},
		},
		logger: logger,
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry with the built-in providers.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(zap.NewNop())
		RegisterBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func (r *Registry) register(c Category, name string, f any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[c][name] = f
	r.logger.Debug("registered provider", zap.String("category", string(c)), zap.String("name", name))
}

func (r *Registry) RegisterEmbedder(name string, f EmbedderFactory) {
	r.register(CategoryEmbedding, name, f)
}

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.register(CategoryLLM, name, f)
}

func (r *Registry) RegisterVectorStore(name string, f VectorStoreFactory) {
	r.register(CategoryVectorStore, name, f)
}

func (r *Registry) RegisterGraphStore(name string, f GraphStoreFactory) {
	r.register(CategoryGraphStore, name, f)
}

// Names returns the sorted provider names registered for a category.
func (r *Registry) Names(c Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked(c)
}

func (r *Registry) namesLocked(c Category) []string {
	names := make([]string, 0, len(r.factories[c]))
	for n := range r.factories[c] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// lookup returns the factory for name, or an UnknownProviderError.
func lookup[F any](r *Registry, c Category, name string) (F, *zap.Logger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero F
	f, ok := r.factories[c][name]
	if !ok {
		return zero, nil, &UnknownProviderError{Category: c, Name: name, Known: r.namesLocked(c)}
	}
	return f.(F), r.logger, nil
}

// Check reports an UnknownProviderError when no factory is registered for
// name in category c. It constructs nothing.
func (r *Registry) Check(c Category, name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.factories[c][name]; !ok {
		return &UnknownProviderError{Category: c, Name: name, Known: r.namesLocked(c)}
	}
	return nil
}

// construct runs the factory outside the lock and wraps its failure.
func construct[P any](c Category, name string, build func() (P, error)) (P, error) {
	p, err := build()
	if err != nil {
		var zero P
		return zero, &ProviderConstructionError{Category: c, Name: name, Err: err}
	}
	return p, nil
}

// Embedder constructs the named embedding provider.
func (r *Registry) Embedder(name string, cfg config.EmbedderConfig) (embedding.Provider, error) {
	f, logger, err := lookup[EmbedderFactory](r, CategoryEmbedding, name)
	if err != nil {
		return nil, err
	}
	return construct(CategoryEmbedding, name, func() (embedding.Provider, error) { return f(cfg, logger) })
}

// LLM constructs the named LLM provider.
func (r *Registry) LLM(name string, cfg config.LLMConfig) (llm.Provider, error) {
	f, logger, err := lookup[LLMFactory](r, CategoryLLM, name)
	if err != nil {
		return nil, err
	}
	return construct(CategoryLLM, name, func() (llm.Provider, error) { return f(cfg, logger) })
}

// VectorStore constructs the named vector store.
func (r *Registry) VectorStore(name string, cfg config.VectorStoreConfig) (vectorstore.Provider, error) {
	f, logger, err := lookup[VectorStoreFactory](r, CategoryVectorStore, name)
	if err != nil {
		return nil, err
	}
	return construct(CategoryVectorStore, name, func() (vectorstore.Provider, error) { return f(cfg, logger) })
}

// GraphStore constructs the named graph store.
func (r *Registry) GraphStore(name string, cfg config.GraphStoreConfig) (graphstore.Provider, error) {
	f, logger, err := lookup[GraphStoreFactory](r, CategoryGraphStore, name)
	if err != nil {
		return nil, err
	}
	return construct(CategoryGraphStore, name, func() (graphstore.Provider, error) { return f(cfg, logger) })
}

// SetLogger replaces the logger handed to factories.
func (r *Registry) SetLogger(logger *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}
