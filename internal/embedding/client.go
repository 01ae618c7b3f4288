// Package embedding implements the C1 Embedding Client (§4.1): text
// preprocessing, output validation, and a TTL cache in front of whichever
// llm.Provider backend is configured. Grounded on the teacher's
// internal/embedding/client.go HTTP-client shape, generalised from a
// single hardcoded endpoint to delegate through the C3 Provider interface
// so the same backend selection (local/openai/anthropic) serves both
// completions and embeddings.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"taskpilot/internal/cache"
	"taskpilot/internal/errs"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
)

// MaxChars is the §4.1 preprocessing truncation length.
const MaxChars = 32000

// DefaultTTL is the §4.1 embedding cache TTL.
const DefaultTTL = time.Hour

// DefaultBatchSize is the §4.1 EmbedBatch bounded batch size.
const DefaultBatchSize = 10

var collapseWhitespace = regexp.MustCompile(`\s+`)

// Client is the C1 Embedding Client.
type Client struct {
	backend llm.Provider
	store   *cache.Store
	model   string
	dim     int
	ttl     time.Duration
}

// New constructs a Client. dim is the expected vector dimension D used by
// output validation; model, if empty, defers to the backend's default.
func New(backend llm.Provider, store *cache.Store, model string, dim int) *Client {
	return &Client{backend: backend, store: store, model: model, dim: dim, ttl: DefaultTTL}
}

// Dimension reports the configured vector size D.
func (c *Client) Dimension() int { return c.dim }

// Preprocess applies §4.1's preprocessing rules: trim, collapse whitespace,
// NFC-normalise, strip control characters except newline/tab, truncate.
func Preprocess(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	collapsed := collapseWhitespace.ReplaceAllString(trimmed, " ")
	normalized := norm.NFC.String(collapsed)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len([]rune(out)) > MaxChars {
		runes := []rune(out)
		out = string(runes[:MaxChars])
	}
	return out
}

// Embed produces a single embedding, failing the request on validation
// failure (the single-item path, per §4.1, never falls back to zero).
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	pre := Preprocess(text)
	if pre == "" {
		return nil, errs.NewEmbeddingInvalid("empty input")
	}
	key := cacheKey(pre, c.model)
	if vec, ok := c.getCached(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.backend.Embed(ctx, pre, c.model)
	if err != nil {
		return nil, errs.NewUpstream("embed", err)
	}
	if err := c.validate(vec); err != nil {
		return nil, err
	}
	c.store.SetJSON(ctx, key, vec, c.ttl)
	return vec, nil
}

// EmbedBatch processes inputs in bounded batches, consulting the cache per
// item. An individual item that fails validation falls back to a zero
// vector and is logged, rather than failing the whole batch (§4.1).
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	log := observability.LoggerWithTrace(ctx)
	for start := 0; start < len(texts); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for i := start; i < end; i++ {
			pre := Preprocess(texts[i])
			if pre == "" {
				out[i] = make([]float32, c.dim)
				continue
			}
			key := cacheKey(pre, c.model)
			if vec, ok := c.getCached(ctx, key); ok {
				out[i] = vec
				continue
			}
			vec, err := c.backend.Embed(ctx, pre, c.model)
			if err == nil {
				err = c.validate(vec)
			}
			if err != nil {
				log.Warn().Err(err).Int("index", i).Msg("embed_batch_item_failed")
				out[i] = make([]float32, c.dim)
				continue
			}
			c.store.SetJSON(ctx, key, vec, c.ttl)
			out[i] = vec
		}
	}
	return out, nil
}

func (c *Client) getCached(ctx context.Context, key string) ([]float32, bool) {
	var vec []float32
	if c.store.GetJSON(ctx, key, &vec) {
		return vec, true
	}
	return nil, false
}

func (c *Client) validate(vec []float32) error {
	if c.dim > 0 && len(vec) != c.dim {
		return errs.NewEmbeddingInvalid(fmt.Sprintf("expected %d dimensions, got %d", c.dim, len(vec)))
	}
	allZero := true
	for _, f := range vec {
		if f != f || f > 3.4e38 || f < -3.4e38 {
			return errs.NewEmbeddingInvalid("non-finite value in embedding")
		}
		if f != 0 {
			allZero = false
		}
	}
	if allZero {
		return errs.NewEmbeddingInvalid("embedding is all zero")
	}
	return nil
}

func cacheKey(preprocessed, model string) string {
	h := sha256.Sum256([]byte(model + "\x00" + preprocessed))
	return "embed:" + hex.EncodeToString(h[:])
}
