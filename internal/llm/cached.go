package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"taskpilot/internal/cache"
)

// defaultCompleteCacheTTL is §4.3's "caching wrapper ... TTL 10 min".
const defaultCompleteCacheTTL = 10 * time.Minute

// CachedProvider wraps a Provider so that non-streaming Complete calls are
// served from an in-process/Redis-mirrored cache keyed by a digest of
// (prompt, model, opts). CompleteStream is never cached (callers opted
// into streaming precisely because they want incremental output) and
// Embed delegates straight through — C1's own cache covers embeddings.
type CachedProvider struct {
	inner Provider
	store *cache.Store
	ttl   time.Duration
}

// NewCachedProvider wraps inner with store, using the §4.3 default TTL.
func NewCachedProvider(inner Provider, store *cache.Store) *CachedProvider {
	return &CachedProvider{inner: inner, store: store, ttl: defaultCompleteCacheTTL}
}

func (c *CachedProvider) Name() string { return c.inner.Name() }

func (c *CachedProvider) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	key := completeCacheKey(prompt, opts)
	var cached string
	if c.store.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	out, err := c.inner.Complete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	c.store.SetJSON(ctx, key, out, c.ttl)
	return out, nil
}

func (c *CachedProvider) CompleteStream(ctx context.Context, prompt string, opts CompleteOptions, onChunk ChunkHandler) (string, error) {
	return c.inner.CompleteStream(ctx, prompt, opts, onChunk)
}

func (c *CachedProvider) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	return c.inner.Embed(ctx, text, model)
}

func completeCacheKey(prompt string, opts CompleteOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.4f\x00%d\x00%s", prompt, opts.Model, opts.Temperature, opts.MaxTokens, opts.System)
	return "llm:complete:" + hex.EncodeToString(h.Sum(nil))
}
