package embedding

import (
	"context"
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder serves repeated texts from an LRU cache keyed by the text's
// sha256. It is meant for the query path, where the same questions recur.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[[32]byte, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given capacity (default 1000).
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 1000
	}
	cache, err := lru.New[[32]byte, []float32](capacity)
	if err != nil {
		cache, _ = lru.New[[32]byte, []float32](1000)
	}
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed returns the cached vector for text or embeds and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

// EmbedBatch embeds only the texts missing from the cache, in one inner call,
// and returns vectors in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([][32]byte, len(texts))
	var missing []string
	var missingAt []int
	for i, t := range texts {
		keys[i] = sha256.Sum256([]byte(t))
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vectors, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := checkCount("cached embed batch", missing, vectors); err != nil {
		return nil, err
	}
	for j, i := range missingAt {
		out[i] = vectors[j]
		c.cache.Add(keys[i], vectors[j])
	}
	return out, nil
}

// Dimensions delegates to the wrapped embedder.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Close purges the cache and closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
