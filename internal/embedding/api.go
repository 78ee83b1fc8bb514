package embedding

import (
	"fmt"
	"net/url"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"

	"github.com/nidhogg/nuka-memory/internal/config"
)

const azureAPIVersion = "2024-02-01"

// NewAzureProvider creates an embedder for an Azure OpenAI deployment.
// The model name doubles as the deployment name.
func NewAzureProvider(cfg config.EmbedderConfig) (*OpenAIProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("azure_openai embedder requires url (resource endpoint)")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("azure_openai embedder url: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	p := &OpenAIProvider{
		client: openai.NewClient(
			azure.WithEndpoint(cfg.URL, azureAPIVersion),
			azure.WithAPIKey(cfg.APIKey),
		),
		model: model,
		dim:   newDimension(cfg.Dimension, model),
	}
	if isDimensionable(model) {
		p.dims = cfg.Dimension
	}
	return p, nil
}
