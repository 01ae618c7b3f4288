package local

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskpilot/internal/config"
	"taskpilot/internal/llm"
)

func TestCompleteNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "hello", "done": true})
	}))
	defer srv.Close()

	c, err := New(config.Ollama{APIURL: srv.URL, LLMModel: "llama3"}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := c.Complete(context.Background(), "hi", llm.CompleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected response: %q", out)
	}
}

func TestCompleteStreamConcatenatesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"response":"he","done":false}`,
			`{"response":"llo","done":false}`,
			`{"response":"","done":true}`,
		}
		w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}))
	defer srv.Close()

	c, err := New(config.Ollama{APIURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []string
	out, err := c.CompleteStream(context.Background(), "hi", llm.CompleteOptions{}, func(s string) {
		got = append(got, s)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected concatenated response: %q", out)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c, err := New(config.Ollama{APIURL: srv.URL, EmbeddingModel: "nomic-embed-text"}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec, err := c.Embed(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector length: %d", len(vec))
	}
}

func TestNewRequiresAPIURL(t *testing.T) {
	if _, err := New(config.Ollama{}, nil); err == nil {
		t.Fatal("expected error for missing API URL")
	}
}
