package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nidhogg/nuka-memory/internal/config"
)

// GoogleProvider implements Provider for the Gemini API.
type GoogleProvider struct {
	client   *genai.Client
	defaults defaults
	logger   *zap.Logger
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(cfg config.LLMConfig, logger *zap.Logger) (*GoogleProvider, error) {
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
	return &GoogleProvider{
		client:   client,
		defaults: newDefaults(cfg, "gemini-2.0-flash"),
		logger:   logger,
	}, nil
}

// Complete generates content for the conversation.
func (p *GoogleProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = p.defaults.merge(opts)
	system, rest := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	gc := &genai.GenerateContentConfig{}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.defaults.model, contents, gc)
	if err != nil {
		return "", fmt.Errorf("generate content %s: %w", p.defaults.model, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from provider")
	}
	return resp.Text(), nil
}
