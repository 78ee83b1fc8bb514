package config

import (
	"encoding/json"
	"math"
	"regexp"
)

// keylessProviders may omit apiKey: they talk to a local runtime.
var keylessProviders = map[string]bool{
	"ollama": true,
}

// KeylessProvider reports whether the named embedder/LLM provider works
// without an API key.
func KeylessProvider(name string) bool {
	return keylessProviders[name]
}

var versionRe = regexp.MustCompile(`^v?\d+(\.\d+){0,2}([-+][0-9A-Za-z.\-]+)?$`)

// ParseJSON decodes data and validates it with Parse.
func ParseJSON(data []byte) (*MemoryConfig, error) {
	raw, err := DecodeRaw(data)
	if err != nil {
		return nil, &ValidationError{Fields: []FieldError{{
			Path: "$", Reason: "malformed JSON: " + err.Error(),
		}}}
	}
	return Parse(raw)
}

// Parse validates a raw configuration document and returns the typed
// configuration. On failure the error is a *ValidationError listing every
// failed rule; the returned config is nil.
func Parse(raw map[string]any) (*MemoryConfig, error) {
	if raw == nil {
		return nil, &ValidationError{Fields: []FieldError{{
			Path: "$", Reason: "required", Expected: "object", Actual: "null",
		}}}
	}

	v := &validator{}
	cfg := &MemoryConfig{}

	if s, ok := v.optString(raw, "version", "version"); ok {
		if !versionRe.MatchString(s) {
			v.fail("version", "must be a semantic version such as v1.1 or 1.0.0")
		}
		cfg.Version = s
	}

	if emb, ok := v.object(raw, "embedder", "embedder", true); ok {
		cfg.Embedder.Provider = v.reqString(emb, "provider", "embedder.provider")
		if c, ok := v.object(emb, "config", "embedder.config", true); ok {
			cfg.Embedder.Config = v.embedderConfig(c, cfg.Embedder.Provider)
		}
	}

	if vs, ok := v.object(raw, "vectorStore", "vectorStore", true); ok {
		cfg.VectorStore.Provider = v.reqString(vs, "provider", "vectorStore.provider")
		if c, ok := v.object(vs, "config", "vectorStore.config", true); ok {
			cfg.VectorStore.Config = v.vectorStoreConfig(c)
		}
	}

	if l, ok := v.object(raw, "llm", "llm", true); ok {
		cfg.LLM.Provider = v.reqString(l, "provider", "llm.provider")
		if c, ok := v.object(l, "config", "llm.config", true); ok {
			cfg.LLM.Config = v.llmConfig(c, "llm.config", cfg.LLM.Provider, true)
		}
	}

	if g, ok := v.object(raw, "graphStore", "graphStore", false); ok {
		cfg.GraphStore = v.graphStoreConfig(g)
	}

	cfg.HistoryDBPath, _ = v.optString(raw, "historyDbPath", "historyDbPath")
	cfg.CustomPrompt, _ = v.optString(raw, "customPrompt", "customPrompt")
	cfg.EnableGraph = v.optBool(raw, "enableGraph", "enableGraph")
	cfg.StoreHistory = v.optBool(raw, "storeHistory", "storeHistory")

	if cfg.EnableGraph != nil && *cfg.EnableGraph && !present(raw, "graphStore") {
		v.fail("enableGraph", "enableGraph is true but no graphStore is configured")
	}

	if len(v.errs) > 0 {
		return nil, &ValidationError{Fields: v.errs}
	}
	return cfg, nil
}

type validator struct {
	errs []FieldError
}

func (v *validator) fail(path, reason string) {
	v.errs = append(v.errs, FieldError{Path: path, Reason: reason})
}

func (v *validator) mismatch(path, expected string, val any, exists bool) {
	reason := "wrong type"
	if !exists {
		reason = "required"
	}
	v.errs = append(v.errs, FieldError{
		Path: path, Reason: reason, Expected: expected, Actual: kindOf(val, exists),
	})
}

func (v *validator) embedderConfig(c map[string]any, provider string) EmbedderConfig {
	var out EmbedderConfig
	if KeylessProvider(provider) {
		out.APIKey, _ = v.optString(c, "apiKey", "embedder.config.apiKey")
	} else {
		out.APIKey = v.reqString(c, "apiKey", "embedder.config.apiKey")
	}
	out.Model = v.optNonEmpty(c, "model", "embedder.config.model")
	out.URL, _ = v.optString(c, "url", "embedder.config.url")
	out.Dimension = v.optPositiveInt(c, "dimension", "embedder.config.dimension")
	if b := v.optBool(c, "cache", "embedder.config.cache"); b != nil {
		out.Cache = *b
	}
	return out
}

func (v *validator) vectorStoreConfig(c map[string]any) VectorStoreConfig {
	out := VectorStoreConfig{Extra: make(map[string]any)}
	out.CollectionName = v.reqString(c, "collectionName", "vectorStore.config.collectionName")
	out.Dimension = v.optPositiveInt(c, "dimension", "vectorStore.config.dimension")
	for k, val := range c {
		if k == "collectionName" || k == "dimension" {
			continue
		}
		out.Extra[k] = val
	}
	return out
}

// llmConfig parses an LLM config object. strict selects the top-level llm
// rules (apiKey required, typed model); the graph-store override is an open
// record whose known keys are only picked up when they are strings.
func (v *validator) llmConfig(c map[string]any, path, provider string, strict bool) LLMConfig {
	out := LLMConfig{Options: make(map[string]any)}
	if strict {
		if KeylessProvider(provider) {
			out.APIKey, _ = v.optString(c, "apiKey", path+".apiKey")
		} else {
			out.APIKey = v.reqString(c, "apiKey", path+".apiKey")
		}
		out.Model = v.optNonEmpty(c, "model", path+".model")
		out.URL, _ = v.optString(c, "url", path+".url")
	} else {
		out.APIKey, _ = c["apiKey"].(string)
		out.Model, _ = c["model"].(string)
		out.URL, _ = c["url"].(string)
	}

	for k, val := range c {
		switch k {
		case "apiKey", "model", "url", "config":
			continue
		}
		out.Options[k] = val
	}
	if bag, ok := v.object(c, "config", path+".config", false); ok {
		for k, val := range bag {
			out.Options[k] = val
		}
	}
	return out
}

func (v *validator) graphStoreConfig(g map[string]any) *GraphStoreConfig {
	out := &GraphStoreConfig{}
	out.Provider = v.reqString(g, "provider", "graphStore.provider")
	if c, ok := v.object(g, "config", "graphStore.config", true); ok {
		out.Config.URL = v.reqString(c, "url", "graphStore.config.url")
		out.Config.Username = v.reqStringAllowEmpty(c, "username", "graphStore.config.username")
		out.Config.Password = v.reqStringAllowEmpty(c, "password", "graphStore.config.password")
	}
	if l, ok := v.object(g, "llm", "graphStore.llm", false); ok {
		spec := &LLMSpec{Provider: v.reqString(l, "provider", "graphStore.llm.provider")}
		if c, ok := v.object(l, "config", "graphStore.llm.config", true); ok {
			spec.Config = v.llmConfig(c, "graphStore.llm.config", spec.Provider, false)
		}
		out.LLM = spec
	}
	out.CustomPrompt, _ = v.optString(g, "customPrompt", "graphStore.customPrompt")
	return out
}

// object returns m[key] as an object. A missing optional key is not an error.
func (v *validator) object(m map[string]any, key, path string, required bool) (map[string]any, bool) {
	val, exists := m[key]
	if !exists && !required {
		return nil, false
	}
	obj, ok := val.(map[string]any)
	if !ok {
		v.mismatch(path, "object", val, exists)
		return nil, false
	}
	return obj, true
}

func (v *validator) reqString(m map[string]any, key, path string) string {
	val, exists := m[key]
	s, ok := val.(string)
	if !ok {
		v.mismatch(path, "string", val, exists)
		return ""
	}
	if s == "" {
		v.fail(path, "must not be empty")
	}
	return s
}

func (v *validator) reqStringAllowEmpty(m map[string]any, key, path string) string {
	val, exists := m[key]
	s, ok := val.(string)
	if !ok {
		v.mismatch(path, "string", val, exists)
	}
	return s
}

func (v *validator) optString(m map[string]any, key, path string) (string, bool) {
	val, exists := m[key]
	if !exists {
		return "", false
	}
	s, ok := val.(string)
	if !ok {
		v.mismatch(path, "string", val, true)
		return "", false
	}
	return s, true
}

func (v *validator) optNonEmpty(m map[string]any, key, path string) string {
	s, ok := v.optString(m, key, path)
	if ok && s == "" {
		v.fail(path, "must not be empty when present")
	}
	return s
}

func (v *validator) optBool(m map[string]any, key, path string) *bool {
	val, exists := m[key]
	if !exists {
		return nil
	}
	b, ok := val.(bool)
	if !ok {
		v.mismatch(path, "bool", val, true)
		return nil
	}
	return &b
}

func (v *validator) optPositiveInt(m map[string]any, key, path string) int {
	val, exists := m[key]
	if !exists {
		return 0
	}
	f, ok := toFloat(val)
	if !ok {
		v.mismatch(path, "number", val, true)
		return 0
	}
	if f <= 0 || f != math.Trunc(f) {
		v.fail(path, "must be a positive integer")
		return 0
	}
	return int(f)
}

func present(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func kindOf(val any, exists bool) string {
	if !exists {
		return "missing"
	}
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return "unknown"
}
