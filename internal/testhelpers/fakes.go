// Package testhelpers collects small fakes shared across package tests,
// the same role the teacher's internal/testhelpers plays for its own
// Provider interface.
package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"taskpilot/internal/llm"
)

// FakeProvider is a deterministic llm.Provider for tests: fixed responses,
// an optional streaming delta sequence, and an optional fixed embedding.
type FakeProvider struct {
	NameValue    string
	Resp         string
	Err          error
	StreamDeltas []string
	Embedding    []float32
	EmbedErr     error
}

func (f *FakeProvider) Name() string {
	if f.NameValue != "" {
		return f.NameValue
	}
	return "fake"
}

func (f *FakeProvider) Complete(ctx context.Context, prompt string, opts llm.CompleteOptions) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Resp, nil
}

func (f *FakeProvider) CompleteStream(ctx context.Context, prompt string, opts llm.CompleteOptions, onChunk llm.ChunkHandler) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	var out string
	for _, d := range f.StreamDeltas {
		onChunk(d)
		out += d
	}
	if out == "" {
		out = f.Resp
	}
	return out, nil
}

func (f *FakeProvider) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if f.EmbedErr != nil {
		return nil, f.EmbedErr
	}
	if f.Embedding != nil {
		return f.Embedding, nil
	}
	return make([]float32, 8), nil
}

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}
