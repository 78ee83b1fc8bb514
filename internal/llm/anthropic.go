package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/config"
)

const anthropicDefaultMaxTokens = 2000

// AnthropicProvider implements Provider for the Claude API.
type AnthropicProvider struct {
	client   anthropic.Client
	defaults defaults
	logger   *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg config.LLMConfig, logger *zap.Logger) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.URL != "" {
		opts = append(opts, option.WithBaseURL(cfg.URL))
	}
	d := newDefaults(cfg, "claude-3-5-haiku-latest")
	if d.maxTokens == 0 {
		d.maxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicProvider{
		client:   anthropic.NewClient(opts...),
		defaults: d,
		logger:   logger,
	}
}

// Complete sends a non-streaming messages request. Claude has no JSON
// response mode; opts.JSON is expressed as a system instruction instead.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = p.defaults.merge(opts)
	system, rest := splitSystem(messages)
	if opts.JSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaults.model),
		MaxTokens: int64(opts.MaxTokens),
		Messages:  convertAnthropicMessages(rest),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("messages %s: %w", p.defaults.model, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	p.logger.Debug("anthropic completion",
		zap.String("model", string(msg.Model)),
		zap.String("stop_reason", string(msg.StopReason)))
	return b.String(), nil
}

func convertAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}
	return out
}
