package providers

import (
	"testing"

	"taskpilot/internal/cache"
	"taskpilot/internal/config"
)

func TestBuildUnsupportedBackend(t *testing.T) {
	cfg := config.Config{LLMBackend: "bogus"}
	if _, err := Build(cfg, nil, cache.New(nil, "test")); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestBuildLocalRequiresAPIURL(t *testing.T) {
	cfg := config.Config{LLMBackend: "local"}
	if _, err := Build(cfg, nil, cache.New(nil, "test")); err == nil {
		t.Fatal("expected error for missing ollama API URL")
	}
}

func TestBuildOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{LLMBackend: "openai", OpenAI: config.OpenAI{Enabled: true}}
	if _, err := Build(cfg, nil, cache.New(nil, "test")); err == nil {
		t.Fatal("expected error for missing openai API key")
	}
}
