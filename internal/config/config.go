// Package config loads process configuration from the environment, in the
// same style the teacher codebase uses: an optional .env overlay via
// godotenv, explicit os.Getenv reads, and small typed parsing helpers.
package config

import "time"

// Qdrant holds vector store connection settings.
type Qdrant struct {
	Host           string
	Port           int
	APIKey         string
	HTTPS          bool
	Timeout        time.Duration
	CollectionName string
	VectorSize     int
	MaxRetries     int
}

// Ollama holds local LLM/embedding backend settings.
type Ollama struct {
	APIURL         string
	EmbeddingModel string
	LLMModel       string
	FastLLMModel   string
}

// OpenAI holds hosted OpenAI-compatible backend settings.
type OpenAI struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Model   string
}

// Anthropic holds the bonus hosted backend settings (beyond the distilled
// spec's OpenAI-only hosted path).
type Anthropic struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DB holds the relational store connection settings used by the external
// CRUD services; the Pipeline itself never talks to this database directly.
type DB struct {
	Host     string
	Port     int
	Username string
	Password string
	Name     string
}

// Redis holds the cache backend settings shared by the embedding cache, LLM
// response cache, conversation session mirror, and pipeline response cache.
type Redis struct {
	Addr       string
	Password   string
	DB         int
	TTLSeconds int
}

// Entities holds the base URL of the external CRUD services (§6.2).
type Entities struct {
	BaseURL string
}

// Observability holds ambient logging/tracing settings.
type Observability struct {
	LogPath        string
	LogLevel       string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Cache holds the two open-question toggles from §9.
type Cache struct {
	KeyIncludeSession       bool
	LLMKeyIncludeContextDig bool
}

// Config is the fully resolved process configuration.
type Config struct {
	Qdrant        Qdrant
	Ollama        Ollama
	OpenAI        OpenAI
	Anthropic     Anthropic
	DB            DB
	Redis         Redis
	Entities      Entities
	Observability Observability
	Cache         Cache

	// LLMBackend selects the C3 Provider implementation: "local", "openai",
	// or "anthropic".
	LLMBackend string

	// HTTPAddr is the address the HTTP surface (§6.1) listens on.
	HTTPAddr string
}
