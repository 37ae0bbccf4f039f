package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Cache stores vectors by opaque key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
}

// Cached serves repeated texts from a Cache and forwards misses. Cache
// failures are logged and treated as misses.
type Cached struct {
	next  Embedder
	cache Cache
	model string
	log   *slog.Logger
}

func NewCached(next Embedder, cache Cache, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	return &Cached{next: next, cache: cache, model: modelName(next), log: log}
}

func (c *Cached) ModelName() string { return c.model }

// Key derives the cache key for text under this embedder's model.
func (c *Cached) Key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cached) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return one(ctx, c, text)
}

func (c *Cached) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string

	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, c.Key(t))
		if err != nil {
			c.log.Warn("embedding cache read failed", "error", err)
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedMany(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(missText), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Put(ctx, c.Key(missText[j]), vecs[j]); err != nil {
			c.log.Warn("embedding cache write failed", "error", err)
		}
	}
	return out, nil
}
