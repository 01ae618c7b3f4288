package llm

import (
	"context"
	"strings"
	"time"

	"taskpilot/internal/observability"
)

// completeMaxRetries/embedMaxRetries are §4.3's "up to 2 for completions
// and 3 for embeddings".
const (
	completeMaxRetries = 2
	embedMaxRetries    = 3
)

// retryBaseDelay is the first backoff delay; it doubles on each attempt.
// A var, not a const, so tests can shrink it.
var retryBaseDelay = 200 * time.Millisecond

// RetryingProvider wraps a Provider with §4.3's retry policy: exponential
// backoff, non-retryable on 404 (model absent) and 400 (bad request).
// CompleteStream is not retried since a partial stream may already have
// reached onChunk by the time it fails.
type RetryingProvider struct {
	inner Provider
}

// NewRetryingProvider wraps inner with the §4.3 retry policy.
func NewRetryingProvider(inner Provider) *RetryingProvider {
	return &RetryingProvider{inner: inner}
}

func (r *RetryingProvider) Name() string { return r.inner.Name() }

func (r *RetryingProvider) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	var out string
	err := withRetry(ctx, completeMaxRetries, r.Name(), func() error {
		var callErr error
		out, callErr = r.inner.Complete(ctx, prompt, opts)
		return callErr
	})
	return out, err
}

func (r *RetryingProvider) CompleteStream(ctx context.Context, prompt string, opts CompleteOptions, onChunk ChunkHandler) (string, error) {
	return r.inner.CompleteStream(ctx, prompt, opts, onChunk)
}

func (r *RetryingProvider) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	var out []float32
	err := withRetry(ctx, embedMaxRetries, r.Name(), func() error {
		var callErr error
		out, callErr = r.inner.Embed(ctx, text, model)
		return callErr
	})
	return out, err
}

// withRetry runs op up to maxRetries+1 times with exponential backoff,
// stopping early on a non-retryable status or context cancellation.
func withRetry(ctx context.Context, maxRetries int, backend string, op func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil || isNonRetryable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("backend", backend).Int("attempt", attempt+1).Msg("llm_retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isNonRetryable reports whether err looks like a 400 (bad request) or 404
// (model absent) response, which §4.3 says must not be retried. Backend
// SDKs surface the status in the error text rather than a typed field the
// Provider contract can see, so this matches on the rendered message the
// same way the teacher's own backends distinguish client errors.
func isNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "400") ||
		strings.Contains(msg, "404") ||
		strings.Contains(msg, "bad request") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "model_not_found")
}
