package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nidhogg/nuka-memory/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements Provider using Ollama's embeddings API.
type OllamaProvider struct {
	client *resty.Client
	model  string
	dim    *dimension
}

// NewOllamaProvider creates a new OllamaProvider from the given config.
func NewOllamaProvider(cfg config.EmbedderConfig) *OllamaProvider {
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(120 * time.Second)
	return &OllamaProvider{
		client: c,
		model:  model,
		dim:    newDimension(cfg.Dimension, model),
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed sends each text to the Ollama endpoint and returns embeddings.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedSingle(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, vec)
	}
	p.dim.observe(embeddings)
	return embeddings, nil
}

func (p *OllamaProvider) embedSingle(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(&localRequest{Model: p.model, Prompt: text}).
		Post("/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var result localResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: empty vector for model %s", p.model)
	}
	return result.Embedding, nil
}

// Dimension returns the embedding vector dimension.
func (p *OllamaProvider) Dimension() int {
	return p.dim.get()
}
