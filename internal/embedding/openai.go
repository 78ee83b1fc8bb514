package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nidhogg/nuka-memory/internal/config"
)

const mistralBaseURL = "https://api.mistral.ai/v1"

// OpenAIProvider implements Provider with the OpenAI SDK. It also serves
// OpenAI-compatible vendors through a base URL override.
type OpenAIProvider struct {
	client openai.Client
	model  string
	// dims is sent to the API only for models that accept a dimensions parameter.
	dims int
	dim  *dimension
}

// NewOpenAIProvider creates an OpenAI embedder.
func NewOpenAIProvider(cfg config.EmbedderConfig) *OpenAIProvider {
	return newOpenAICompatible(cfg, "", "text-embedding-3-small")
}

// NewMistralProvider creates an embedder for Mistral's OpenAI-compatible API.
func NewMistralProvider(cfg config.EmbedderConfig) *OpenAIProvider {
	return newOpenAICompatible(cfg, mistralBaseURL, "mistral-embed")
}

func newOpenAICompatible(cfg config.EmbedderConfig, baseURL, defaultModel string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.URL != "" {
		baseURL = cfg.URL
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	p := &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
		dim:    newDimension(cfg.Dimension, model),
	}
	if isDimensionable(model) {
		p.dims = cfg.Dimension
	}
	return p
}

func isDimensionable(model string) bool {
	return strings.HasPrefix(model, "text-embedding-3")
}

// Embed returns one embedding per input text.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.dims > 0 {
		params.Dimensions = openai.Int(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding: %s: %w", p.model, err)
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) < len(out) {
			out[d.Index] = toFloat32(d.Embedding)
		}
	}
	p.dim.observe(out)
	return out, nil
}

// Dimension returns the embedding vector dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.dim.get()
}
