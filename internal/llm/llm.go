package llm

import (
	"context"

	"github.com/nidhogg/nuka-memory/internal/config"
)

// Provider generates text completions.
type Provider interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Message represents a chat message. Images holds image URLs or data URIs
// and is only sent to providers that implement ImageAware.
type Message struct {
	Role    string   `json:"role"` // system|user|assistant
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ImageAware is implemented by providers that accept Message.Images.
type ImageAware interface {
	AcceptsImages() bool
}

// AcceptsImages reports whether p can be sent image content.
func AcceptsImages(p Provider) bool {
	ia, ok := p.(ImageAware)
	return ok && ia.AcceptsImages()
}

// Options tune a single completion. Zero values defer to the provider config.
type Options struct {
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// defaults holds per-instance generation settings taken from the config bag.
type defaults struct {
	model       string
	temperature *float64
	maxTokens   int
}

func newDefaults(cfg config.LLMConfig, model string) defaults {
	d := defaults{model: model}
	if cfg.Model != "" {
		d.model = cfg.Model
	}
	if t, ok := cfg.Float("temperature"); ok {
		d.temperature = &t
	}
	if n, ok := cfg.Float("maxTokens"); ok {
		d.maxTokens = int(n)
	}
	return d
}

func (d defaults) merge(opts Options) Options {
	if opts.Temperature == nil {
		opts.Temperature = d.temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = d.maxTokens
	}
	return opts
}

// splitSystem separates system messages from the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
