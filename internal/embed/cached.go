package embed

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when a caller does not specify one.
const DefaultCacheSize = 1000

// CachedEmbedder decorates an Embedder with an in-process LRU keyed on the
// text and the wrapped embedder's model name, so a model swap can never
// return a stale vector under the wrong key.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float64]
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *CachedEmbedder) Dimensions() int    { return c.inner.Dimensions() }

// Embed returns the cached vector for text if present, otherwise computes,
// caches, and returns it.
func (c *CachedEmbedder) Embed(text string) []float64 {
	key := cacheKey(text, c.inner.ModelName())
	if v, ok := c.cache.Get(key); ok {
		return v
	}
	v := c.inner.Embed(text)
	c.cache.Add(key, v)
	return v
}

func cacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + model))
	return hex.EncodeToString(sum[:])
}
