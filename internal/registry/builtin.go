package registry

import (
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/embedding"
	"github.com/nidhogg/nuka-memory/internal/graphstore"
	"github.com/nidhogg/nuka-memory/internal/llm"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
)

// RegisterBuiltins adds every provider shipped with the module to r.
func RegisterBuiltins(r *Registry) {
	// Embedding
	r.RegisterEmbedder("openai", func(cfg config.EmbedderConfig, _ *zap.Logger) (embedding.Provider, error) {
		return embedding.NewOpenAIProvider(cfg), nil
	})
	r.RegisterEmbedder("azure_openai", func(cfg config.EmbedderConfig, _ *zap.Logger) (embedding.Provider, error) {
		p, err := embedding.NewAzureProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterEmbedder("google", func(cfg config.EmbedderConfig, _ *zap.Logger) (embedding.Provider, error) {
		p, err := embedding.NewGoogleProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterEmbedder("ollama", func(cfg config.EmbedderConfig, _ *zap.Logger) (embedding.Provider, error) {
		return embedding.NewOllamaProvider(cfg), nil
	})
	r.RegisterEmbedder("mistral", func(cfg config.EmbedderConfig, _ *zap.Logger) (embedding.Provider, error) {
		return embedding.NewMistralProvider(cfg), nil
	})

	// LLM
	r.RegisterLLM("openai", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		return llm.NewOpenAIProvider(cfg, logger), nil
	})
	r.RegisterLLM("anthropic", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		return llm.NewAnthropicProvider(cfg, logger), nil
	})
	r.RegisterLLM("google", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		p, err := llm.NewGoogleProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterLLM("groq", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		return llm.NewOpenAICompatible(cfg, llm.GroqBaseURL, "llama-3.1-8b-instant", logger), nil
	})
	r.RegisterLLM("ollama", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		p, err := llm.NewOllamaProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterLLM("mistral", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		return llm.NewOpenAICompatible(cfg, llm.MistralBaseURL, "mistral-small-latest", logger), nil
	})
	r.RegisterLLM("deepseek", func(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
		return llm.NewOpenAICompatible(cfg, llm.DeepSeekBaseURL, "deepseek-chat", logger), nil
	})

	// Vector stores
	r.RegisterVectorStore("memory", func(cfg config.VectorStoreConfig, logger *zap.Logger) (vectorstore.Provider, error) {
		s, err := vectorstore.NewMemoryStore(cfg.CollectionName, cfg.Dimension, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	r.RegisterVectorStore("qdrant", func(cfg config.VectorStoreConfig, logger *zap.Logger) (vectorstore.Provider, error) {
		s, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.String("host"),
			Port:       cfg.Int("port", 0),
			APIKey:     cfg.String("apiKey"),
			Collection: cfg.CollectionName,
			Dimension:  cfg.Dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	r.RegisterVectorStore("redis", func(cfg config.VectorStoreConfig, logger *zap.Logger) (vectorstore.Provider, error) {
		s, err := vectorstore.NewRedisStore(vectorstore.RedisConfig{
			URL:        cfg.String("redisUrl"),
			Collection: cfg.CollectionName,
			Dimension:  cfg.Dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	// Graph stores. Memgraph speaks Bolt and accepts the same Cypher.
	bolt := func(cfg config.GraphStoreConfig, logger *zap.Logger) (graphstore.Provider, error) {
		s, err := graphstore.NewNeo4jStore(cfg.Config.URL, cfg.Config.Username, cfg.Config.Password, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	r.RegisterGraphStore("neo4j", bolt)
	r.RegisterGraphStore("memgraph", bolt)
}
