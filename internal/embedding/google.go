package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/nidhogg/nuka-memory/internal/config"
)

// GoogleProvider implements Provider with the Gemini API.
type GoogleProvider struct {
	client *genai.Client
	model  string
	dims   int32
	dim    *dimension
}

// NewGoogleProvider creates a Gemini embedder. The client does not dial
// until the first call.
func NewGoogleProvider(cfg config.EmbedderConfig) (*GoogleProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.URL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.URL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}
	return &GoogleProvider{
		client: client,
		model:  model,
		dims:   int32(cfg.Dimension),
		dim:    newDimension(cfg.Dimension, model),
	}, nil
}

// Embed returns one embedding per input text.
func (p *GoogleProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	var ec *genai.EmbedContentConfig
	if p.dims > 0 {
		ec = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(p.dims)}
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, ec)
	if err != nil {
		return nil, fmt.Errorf("embedding: %s: %w", p.model, err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	p.dim.observe(out)
	return out, nil
}

// Dimension returns the embedding vector dimension.
func (p *GoogleProvider) Dimension() int {
	return p.dim.get()
}
