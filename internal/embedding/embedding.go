package embedding

import (
	"context"
	"sync/atomic"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the declared output dimensionality, or 0 if unknown.
	Dimension() int
}

// knownDimensions maps well-known embedding models to their output size.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
	"mistral-embed":          1024,
}

// KnownDimension returns the output size of a well-known model, or 0.
func KnownDimension(model string) int {
	return knownDimensions[model]
}

// dimension tracks a configured dimensionality and the one observed on the
// first successful call. The observed value wins once known.
type dimension struct {
	configured int
	observed   atomic.Int64
}

func newDimension(configured int, model string) *dimension {
	if configured == 0 {
		configured = KnownDimension(model)
	}
	return &dimension{configured: configured}
}

func (d *dimension) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		d.observed.CompareAndSwap(0, int64(len(vectors[0])))
	}
}

func (d *dimension) get() int {
	if n := d.observed.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
