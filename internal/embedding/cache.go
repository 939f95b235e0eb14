package embedding

import (
	"container/list"
	"context"
	"sync"
)

// CachingEmbedder wraps an embedder with an LRU cache keyed by text.
type CachingEmbedder struct {
	inner    Embedder
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewCachingEmbedder wraps inner with a cache of the given capacity.
func NewCachingEmbedder(inner Embedder, capacity int) *CachingEmbedder {
	return &CachingEmbedder{
		inner:    inner,
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Embed returns the cached embedding for text if present, otherwise embeds and caches.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if elem, ok := c.cache[text]; ok {
		c.lru.MoveToFront(elem)
		vec := elem.Value.(*cacheEntry).value
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(text, vec)
	return vec, nil
}

func (c *CachingEmbedder) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// EmbedBatch calls Embed for each text.
func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the inner embedder's dimension.
func (c *CachingEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Close closes the inner embedder.
func (c *CachingEmbedder) Close() error { return c.inner.Close() }
