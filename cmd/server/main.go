package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/charmem/internal/analysis"
	"github.com/dgallion1/charmem/internal/api"
	"github.com/dgallion1/charmem/internal/chunker"
	"github.com/dgallion1/charmem/internal/config"
	"github.com/dgallion1/charmem/internal/embed"
	"github.com/dgallion1/charmem/internal/embedcache"
	"github.com/dgallion1/charmem/internal/llm"
	"github.com/dgallion1/charmem/internal/parser"
	"github.com/dgallion1/charmem/internal/pipeline"
	"github.com/dgallion1/charmem/internal/retrieve"
	"github.com/dgallion1/charmem/internal/retry"
	"github.com/dgallion1/charmem/internal/session"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize embedding port.
	var embedder embed.Embedder
	switch cfg.EmbeddingProvider {
	case "openai":
		embedder = embed.NewOpenAI(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingBatchSize)
	default:
		embedder = embed.NewHashing(cfg.EmbeddingDim)
	}
	cache, err := embedcache.Open(ctx, cfg.EmbedCache, cfg.EmbedCachePath)
	if err != nil {
		log.Error("open embedding cache", "kind", cfg.EmbedCache, "error", err)
		os.Exit(1)
	}
	if cache != nil {
		embedder = embed.NewCached(embedder, cache, log)
	}

	// Initialize generation port.
	var base llm.Generator
	model := cfg.GenerationModel
	var anthropic *llm.AnthropicClient
	switch cfg.GenerationProvider {
	case "anthropic":
		anthropic = llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.GenerationMaxTokens, cfg.GenerationTimeout)
		base, model = anthropic, cfg.AnthropicModel
	default:
		base = llm.NewOpenAIClient(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel, cfg.GenerationMaxTokens, cfg.GenerationTimeout)
	}
	gen := llm.NewInstrumented(llm.NewRetrying(base, retry.MaxRetries), llm.NewStats(time.Hour), model)

	// Initialize sessions and pipeline.
	opts := analysis.Options{
		K:                  cfg.RetrievalK,
		SummaryTemperature: cfg.SummaryTemperature,
		ParseTemperature:   cfg.ParseTemperature,
	}
	sessions := session.NewManager(cfg.SessionTTL, retrieve.New(embedder, cfg.RetrievalMinScore), gen, opts, log)

	chunkCfg := chunker.Config{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}
	parserOpts := parser.Options{FallbackPdftotext: cfg.PDFFallbackPdftotext}
	ingester := pipeline.NewIngester(embedder, chunkCfg, cfg.EmbeddingBatchSize, parserOpts, log)

	orch := pipeline.NewOrchestrator(cfg, ingester, log)
	orch.Start(ctx)

	// Evict idle sessions.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Cleanup(); n > 0 {
					log.Info("evicted idle sessions", "count", n)
				}
			}
		}
	}()

	// Initialize HTTP server.
	srv := api.NewServer(sessions, ingester, orch, gen, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		// Synchronous uploads embed the whole book before replying.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		if anthropic != nil {
			anthropic.Close()
		}
		if cache != nil {
			if err := cache.Close(); err != nil {
				log.Warn("close embedding cache", "error", err)
			}
		}
	}()

	log.Info("starting charmem",
		"port", cfg.Port,
		"generation", cfg.GenerationProvider,
		"embedding", cfg.EmbeddingProvider,
		"embed_cache", cfg.EmbedCache,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
