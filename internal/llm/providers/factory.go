// Package providers wires the configured LLM_BACKEND (§6.5: local|openai|
// anthropic) to a concrete llm.Provider.
package providers

import (
	"fmt"
	"net/http"

	"taskpilot/internal/cache"
	"taskpilot/internal/config"
	"taskpilot/internal/llm"
	"taskpilot/internal/llm/anthropic"
	"taskpilot/internal/llm/local"
	openaillm "taskpilot/internal/llm/openai"
)

// Build constructs the C3 Provider selected by cfg.LLMBackend, wrapped in
// the §4.3 retry decorator and then the caching decorator backed by store
// (a cache hit never touches the network, so retries sit inside the cache).
func Build(cfg config.Config, httpClient *http.Client, store *cache.Store) (llm.Provider, error) {
	backend, err := build(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	retrying := llm.NewRetryingProvider(backend)
	return llm.NewCachedProvider(retrying, store), nil
}

func build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMBackend {
	case "", "local":
		return local.New(cfg.Ollama, httpClient)
	case "openai":
		return openaillm.New(cfg.OpenAI, httpClient)
	case "anthropic":
		return anthropic.New(cfg.Anthropic, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm backend: %s", cfg.LLMBackend)
	}
}
