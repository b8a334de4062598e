package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix  = "emb:"
	defaultCacheTTL = 24 * time.Hour
)

// CachedProvider wraps a Provider with a redis-backed cache keyed by model
// and text hash. Cache failures never fail an embed call; the lookup or
// write is skipped and the underlying provider is used directly.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	model  string
	ttl    time.Duration
	logger *log.Logger
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider decorates inner with a redis cache. The model name is
// part of the cache key so switching embedding models never serves stale
// vectors.
func NewCachedProvider(inner Provider, client *redis.Client, model string, logger *log.Logger) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		client: client,
		model:  model,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// EmbedDocuments serves each text from cache when possible and embeds the
// misses through the underlying provider.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, NewEmbeddingError("embed_documents", nil, "input batch is empty")
	}

	vectors := make([][]float32, len(texts))
	var misses []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.get(ctx, text); ok {
			vectors[i] = vec
			continue
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}

	if len(misses) > 0 {
		fresh, err := c.inner.EmbedDocuments(ctx, misses)
		if err != nil {
			return nil, err
		}
		for j, vec := range fresh {
			vectors[missIdx[j]] = vec
			c.put(ctx, misses[j], vec)
		}
	}
	return vectors, nil
}

// EmbedQuery serves the query vector from cache when possible.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.get(ctx, text); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, text, vec)
	return vec, nil
}

// Dimension reports the underlying provider's vector length.
func (c *CachedProvider) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + c.model + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedProvider) get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.key(text)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("embedding cache read failed, falling through: %v", err)
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.Printf("embedding cache entry corrupt, falling through: %v", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedProvider) put(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(text), raw, c.ttl).Err(); err != nil {
		c.logger.Printf("embedding cache write failed: %v", err)
	}
}
