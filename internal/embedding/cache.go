package embedding

import (
	"context"
	"fmt"
	"io"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes embeddings per input text in an in-process cache.
type Cached struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps p with a cache bounded to roughly maxBytes of vectors.
func NewCached(p Provider, maxBytes int64) (*Cached, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: p, cache: cache}, nil
}

// Embed serves cached vectors and embeds only the misses.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missing []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(vectors), len(missing))
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.cache.Set(missing[j], v, int64(len(v)*4))
	}
	c.cache.Wait()
	return out, nil
}

// Dimension delegates to the wrapped provider.
func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

// Close releases the cache and the wrapped provider.
func (c *Cached) Close() error {
	c.cache.Close()
	if cl, ok := c.inner.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
