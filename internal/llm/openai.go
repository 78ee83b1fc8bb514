package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
)

// Base URLs of vendors that speak the OpenAI chat completions protocol.
const (
	GroqBaseURL     = "https://api.groq.com/openai/v1"
	MistralBaseURL  = "https://api.mistral.ai/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible APIs.
type OpenAIProvider struct {
	client   openai.Client
	defaults defaults
	logger   *zap.Logger
}

// NewOpenAIProvider creates a provider against api.openai.com.
func NewOpenAIProvider(cfg config.LLMConfig, logger *zap.Logger) *OpenAIProvider {
	return NewOpenAICompatible(cfg, "", "gpt-4o-mini", logger)
}

// NewOpenAICompatible creates a provider for any OpenAI-compatible endpoint.
// cfg.URL overrides baseURL when set.
func NewOpenAICompatible(cfg config.LLMConfig, baseURL, defaultModel string, logger *zap.Logger) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.URL != "" {
		baseURL = cfg.URL
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:   openai.NewClient(opts...),
		defaults: newDefaults(cfg, defaultModel),
		logger:   logger,
	}
}

// Complete sends a non-streaming chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = p.defaults.merge(opts)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.defaults.model),
		Messages: convertOpenAIMessages(messages),
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", p.defaults.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from provider")
	}
	p.logger.Debug("chat completion",
		zap.String("model", resp.Model),
		zap.Int64("total_tokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

// AcceptsImages reports that user messages may carry image parts.
func (p *OpenAIProvider) AcceptsImages() bool { return true }

func convertOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, openai.TextContentPart(m.Content))
			}
			for _, url := range m.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}
