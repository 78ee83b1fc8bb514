package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
)

// OllamaProvider implements Provider against a local Ollama runtime.
type OllamaProvider struct {
	client   *api.Client
	defaults defaults
	logger   *zap.Logger
}

// NewOllamaProvider creates an Ollama provider. No connection is made here.
func NewOllamaProvider(cfg config.LLMConfig, logger *zap.Logger) (*OllamaProvider, error) {
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", endpoint, err)
	}
	return &OllamaProvider{
		client:   api.NewClient(base, &http.Client{Timeout: 300 * time.Second}),
		defaults: newDefaults(cfg, "llama3.1:8b"),
		logger:   logger,
	}, nil
}

// Complete runs a non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = p.defaults.merge(opts)

	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}
	stream := false
	req := &api.ChatRequest{
		Model:    p.defaults.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if opts.Temperature != nil {
		req.Options["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}
	if opts.JSON {
		req.Format = json.RawMessage(`"json"`)
	}

	var b strings.Builder
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat %s: %w", p.defaults.model, err)
	}
	return b.String(), nil
}
