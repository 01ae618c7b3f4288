// Command taskpilot is the composition root: it loads configuration,
// wires every C1-C13 component, and serves the §6.1 HTTP surface.
// Grounded on the teacher's cmd/agentd/main.go start-up sequence: load
// .env, init logging, init otel, build collaborators top-down, then
// listen.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"taskpilot/internal/action"
	"taskpilot/internal/cache"
	"taskpilot/internal/config"
	"taskpilot/internal/conversation"
	"taskpilot/internal/embedding"
	"taskpilot/internal/entities"
	"taskpilot/internal/generator"
	"taskpilot/internal/httpapi"
	"taskpilot/internal/indexer"
	"taskpilot/internal/llm/providers"
	"taskpilot/internal/observability"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/pipeline"
	"taskpilot/internal/resolver"
	"taskpilot/internal/search"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.Observability.ServiceName, cfg.Observability.ServiceVersion, cfg.Observability.Environment)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	rdb := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	llmCache := cache.New(rdb, "llm")
	embedCache := cache.New(rdb, "embed")
	convCache := cache.New(rdb, "conv")
	respCache := cache.New(rdb, "response")

	provider, err := providers.Build(cfg, httpClient, llmCache)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm provider")
	}
	embedModel := embeddingModel(cfg)
	embedder := embedding.New(provider, embedCache, embedModel, cfg.Qdrant.VectorSize)

	vectorDSN := qdrantDSN(cfg.Qdrant)
	vector, err := databases.NewQdrantVector(vectorDSN, cfg.Qdrant.CollectionName, cfg.Qdrant.MaxRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to qdrant")
	}
	defer vector.Close()

	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := vector.CreateCollection(bootstrapCtx, cfg.Qdrant.VectorSize); err != nil {
		log.Error().Err(err).Msg("create_collection")
	}
	if err := vector.EnsurePayloadIndices(bootstrapCtx, []databases.PayloadIndex{
		{Field: "entity_type", Kind: "keyword"},
		{Field: "entity_id", Kind: "keyword"},
		{Field: "created_at", Kind: "datetime"},
		{Field: "updated_at", Kind: "datetime"},
		{Field: "relationships.team_id", Kind: "keyword"},
		{Field: "relationships.project_id", Kind: "keyword"},
		{Field: "relationships.assigned_to", Kind: "keyword"},
	}); err != nil {
		log.Error().Err(err).Msg("ensure_payload_indices")
	}
	cancel()

	registry := entities.NewRegistry(cfg.Entities.BaseURL, httpClient)
	ix := indexer.New(vector, embedder, registry)
	res := resolver.New(registry)
	searcher := search.New(vector, embedder, nil)
	gen := generator.New(provider)
	exec := action.New(searcher, res, registry, ix, provider, gen, cfg.Ollama.FastLLMModel)
	conv := conversation.New(databases.NewMemoryChatStore(), convCache, provider)
	orch := pipeline.New(conv, searcher, exec, gen, provider, respCache, cfg.Cache.KeyIncludeSession)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if stats, err := ix.IndexAll(seedCtx); err != nil {
		log.Warn().Err(err).Msg("index_all_failed")
	} else {
		log.Info().Interface("stats", stats).Msg("index_all_complete")
	}
	if err := ix.IndexSystemInfo(seedCtx); err != nil {
		log.Warn().Err(err).Msg("index_system_info_failed")
	}
	if err := ix.IndexStatistics(seedCtx); err != nil {
		log.Warn().Err(err).Msg("index_statistics_failed")
	}
	seedCancel()

	server := httpapi.NewServer(orch)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("taskpilot listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful_shutdown_failed")
	}
}

// embeddingModel picks the embedding model name for the configured backend;
// only the local (Ollama) backend names a dedicated embedding model, so
// hosted backends fall back to the provider's own default.
func embeddingModel(cfg config.Config) string {
	if cfg.LLMBackend == "" || cfg.LLMBackend == "local" {
		return cfg.Ollama.EmbeddingModel
	}
	return ""
}

// qdrantDSN turns the Qdrant config block into the URL-shaped DSN
// databases.NewQdrantVector expects.
func qdrantDSN(q config.Qdrant) string {
	scheme := "http"
	if q.HTTPS {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   q.Host + ":" + strconv.Itoa(q.Port),
	}
	if q.APIKey != "" {
		qs := u.Query()
		qs.Set("api_key", q.APIKey)
		u.RawQuery = qs.Encode()
	}
	return u.String()
}
