package openai

import (
	"testing"

	"taskpilot/internal/config"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.OpenAI{Enabled: true}, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewRequiresEnabled(t *testing.T) {
	if _, err := New(config.OpenAI{APIKey: "sk-test"}, nil); err == nil {
		t.Fatal("expected error when backend is not enabled")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	c, err := New(config.OpenAI{Enabled: true, APIKey: "sk-test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", c.model)
	}
	if c.Name() != "openai" {
		t.Fatalf("unexpected provider name: %q", c.Name())
	}
}
