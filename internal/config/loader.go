package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, with an optional
// .env overlay, mirroring the teacher's godotenv.Overload() + explicit
// os.Getenv convention.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Qdrant.Host = firstNonEmpty(getenv("QDRANT_HOST"), "localhost")
	cfg.Qdrant.Port = parseInt(getenv("QDRANT_PORT"), 6334)
	cfg.Qdrant.APIKey = getenv("QDRANT_API_KEY")
	cfg.Qdrant.HTTPS = parseBool(getenv("QDRANT_HTTPS"), false)
	cfg.Qdrant.Timeout = time.Duration(parseInt(getenv("QDRANT_TIMEOUT"), 10)) * time.Second
	cfg.Qdrant.CollectionName = firstNonEmpty(getenv("QDRANT_COLLECTION_NAME"), "task_manager")
	cfg.Qdrant.VectorSize = parseInt(getenv("QDRANT_VECTOR_SIZE"), 768)
	cfg.Qdrant.MaxRetries = parseInt(getenv("QDRANT_MAX_RETRIES"), 3)

	cfg.Ollama.APIURL = firstNonEmpty(getenv("OLLAMA_API_URL"), "http://localhost:11434")
	cfg.Ollama.EmbeddingModel = firstNonEmpty(getenv("OLLAMA_EMBEDDING_MODEL"), "nomic-embed-text")
	cfg.Ollama.LLMModel = firstNonEmpty(getenv("OLLAMA_LLM_MODEL"), "llama3.1")
	cfg.Ollama.FastLLMModel = firstNonEmpty(getenv("OLLAMA_FAST_LLM_MODEL"), cfg.Ollama.LLMModel)

	cfg.OpenAI.Enabled = parseBool(getenv("USE_OPENAI"), false)
	cfg.OpenAI.APIKey = getenv("OPENAI_API_KEY")
	cfg.OpenAI.BaseURL = firstNonEmpty(getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")
	cfg.OpenAI.Model = firstNonEmpty(getenv("OPENAI_MODEL"), "gpt-4o-mini")

	cfg.Anthropic.APIKey = getenv("ANTHROPIC_API_KEY")
	cfg.Anthropic.BaseURL = getenv("ANTHROPIC_BASE_URL")
	cfg.Anthropic.Model = firstNonEmpty(getenv("ANTHROPIC_MODEL"), "claude-3-5-haiku-latest")

	cfg.DB.Host = getenv("DB_HOST")
	cfg.DB.Port = parseInt(getenv("DB_PORT"), 5432)
	cfg.DB.Username = getenv("DB_USERNAME")
	cfg.DB.Password = getenv("DB_PASSWORD")
	cfg.DB.Name = getenv("DB_NAME")

	cfg.Redis.Addr = firstNonEmpty(getenv("REDIS_ADDR"), "localhost:6379")
	cfg.Redis.Password = getenv("REDIS_PASSWORD")
	cfg.Redis.DB = parseInt(getenv("REDIS_DB"), 0)
	cfg.Redis.TTLSeconds = parseInt(getenv("REDIS_TTL_SECONDS"), 3600)

	cfg.Entities.BaseURL = firstNonEmpty(getenv("TASKMANAGER_BASE_URL"), "http://localhost:3000")

	cfg.Observability.LogPath = getenv("LOG_PATH")
	cfg.Observability.LogLevel = firstNonEmpty(getenv("LOG_LEVEL"), "info")
	cfg.Observability.ServiceName = getenv("OTEL_SERVICE_NAME")
	cfg.Observability.ServiceVersion = firstNonEmpty(getenv("SERVICE_VERSION"), "dev")
	cfg.Observability.Environment = firstNonEmpty(getenv("ENVIRONMENT"), "development")

	cfg.Cache.KeyIncludeSession = parseBool(getenv("CACHE_KEY_INCLUDE_SESSION"), false)
	cfg.Cache.LLMKeyIncludeContextDig = parseBool(getenv("LLM_CACHE_KEY_INCLUDE_CONTEXT_DIGEST"), false)

	cfg.LLMBackend = strings.ToLower(firstNonEmpty(getenv("LLM_BACKEND"), backendFromLegacyFlags(cfg)))

	cfg.HTTPAddr = firstNonEmpty(getenv("HTTP_ADDR"), ":8080")

	return cfg, nil
}

// backendFromLegacyFlags derives a default backend when LLM_BACKEND is unset,
// honoring the distilled spec's USE_OPENAI switch.
func backendFromLegacyFlags(cfg Config) string {
	if cfg.OpenAI.Enabled {
		return "openai"
	}
	return "local"
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
