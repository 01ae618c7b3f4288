package llm

import (
	"context"
	"testing"

	"taskpilot/internal/cache"
)

func TestCachedProviderServesSecondCallFromCache(t *testing.T) {
	calls := 0
	inner := &countingProvider{onComplete: func() string { calls++; return "result" }}
	cp := NewCachedProvider(inner, cache.New(nil, "test"))

	ctx := context.Background()
	out1, err := cp.Complete(ctx, "prompt", CompleteOptions{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, err := cp.Complete(ctx, "prompt", CompleteOptions{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out1 != out2 || out1 != "result" {
		t.Fatalf("unexpected outputs: %q %q", out1, out2)
	}
	if calls != 1 {
		t.Fatalf("expected 1 underlying call, got %d", calls)
	}
}

func TestCachedProviderDistinguishesOptions(t *testing.T) {
	calls := 0
	inner := &countingProvider{onComplete: func() string { calls++; return "r" }}
	cp := NewCachedProvider(inner, cache.New(nil, "test"))

	ctx := context.Background()
	cp.Complete(ctx, "prompt", CompleteOptions{Model: "a"})
	cp.Complete(ctx, "prompt", CompleteOptions{Model: "b"})
	if calls != 2 {
		t.Fatalf("expected 2 underlying calls for distinct models, got %d", calls)
	}
}

type countingProvider struct {
	onComplete func() string
}

func (p *countingProvider) Name() string { return "counting" }
func (p *countingProvider) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	return p.onComplete(), nil
}
func (p *countingProvider) CompleteStream(ctx context.Context, prompt string, opts CompleteOptions, onChunk ChunkHandler) (string, error) {
	return p.onComplete(), nil
}
func (p *countingProvider) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	return nil, nil
}
