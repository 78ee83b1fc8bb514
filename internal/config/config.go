package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
)

// MemoryConfig is the validated top-level configuration of a memory instance.
type MemoryConfig struct {
	Version       string            `json:"version,omitempty"`
	Embedder      EmbedderSpec      `json:"embedder"`
	VectorStore   VectorStoreSpec   `json:"vectorStore"`
	LLM           LLMSpec           `json:"llm"`
	GraphStore    *GraphStoreConfig `json:"graphStore,omitempty"`
	HistoryDBPath string            `json:"historyDbPath,omitempty"`
	CustomPrompt  string            `json:"customPrompt,omitempty"`
	EnableGraph   *bool             `json:"enableGraph,omitempty"`
	StoreHistory  *bool             `json:"storeHistory,omitempty"`
}

// GraphEnabled reports whether a graph store should be resolved.
// A present graphStore block is used unless enableGraph is explicitly false.
func (c *MemoryConfig) GraphEnabled() bool {
	if c.GraphStore == nil {
		return false
	}
	return c.EnableGraph == nil || *c.EnableGraph
}

// HistoryEnabled reports whether mutations should be recorded. When
// storeHistory is omitted, history is kept iff historyDbPath is set.
func (c *MemoryConfig) HistoryEnabled() bool {
	if c.StoreHistory != nil {
		return *c.StoreHistory
	}
	return c.HistoryDBPath != ""
}

type EmbedderSpec struct {
	Provider string         `json:"provider"`
	Config   EmbedderConfig `json:"config"`
}

// EmbedderConfig holds embedding provider settings.
type EmbedderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	URL       string `json:"url,omitempty"`
	Dimension int    `json:"dimension,omitempty"` // 0 = provider default
	Cache     bool   `json:"cache,omitempty"`
}

type LLMSpec struct {
	Provider string    `json:"provider"`
	Config   LLMConfig `json:"config"`
}

// LLMConfig holds LLM provider settings. Options is the open bag: the nested
// "config" record merged over any unknown keys of the config object.
type LLMConfig struct {
	APIKey  string         `json:"apiKey,omitempty"`
	Model   string         `json:"model,omitempty"`
	URL     string         `json:"url,omitempty"`
	Options map[string]any `json:"config,omitempty"`
}

// Float returns a numeric option, if present.
func (c LLMConfig) Float(key string) (float64, bool) {
	return toFloat(c.Options[key])
}

type VectorStoreSpec struct {
	Provider string            `json:"provider"`
	Config   VectorStoreConfig `json:"config"`
}

// VectorStoreConfig holds vector store settings. Extra carries every key
// that is not individually validated.
type VectorStoreConfig struct {
	CollectionName string         `json:"collectionName"`
	Dimension      int            `json:"dimension,omitempty"` // 0 = unknown
	Extra          map[string]any `json:"-"`
}

// String returns a passthrough option as a string.
func (c VectorStoreConfig) String(key string) string {
	s, _ := c.Extra[key].(string)
	return s
}

// Int returns a passthrough option as an int, or def when absent.
func (c VectorStoreConfig) Int(key string, def int) int {
	if f, ok := toFloat(c.Extra[key]); ok {
		return int(f)
	}
	return def
}

// GraphStoreConfig configures the optional graph store.
type GraphStoreConfig struct {
	Provider     string      `json:"provider"`
	Config       Neo4jConfig `json:"config"`
	LLM          *LLMSpec    `json:"llm,omitempty"`
	CustomPrompt string      `json:"customPrompt,omitempty"`
}

type Neo4jConfig struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// LoadRaw reads a JSON config file, substitutes environment variable
// references and returns the untyped document for validation.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	raw, err := DecodeRaw(ExpandEnv(data))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

// ExpandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func ExpandEnv(data []byte) []byte {
	return envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envVarRe.FindSubmatch(match)
		name := string(parts[1])
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return []byte(v)
		}
		return defaultVal
	})
}

// DecodeRaw decodes a JSON object into an untyped map. Numbers are kept as
// json.Number so integers survive intact.
func DecodeRaw(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("config must be a JSON object")
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after the config object")
	}
	return raw, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
