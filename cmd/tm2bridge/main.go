// tm2bridge serves the Ayurveda/Siddha/Unani → ICD-11 TM2 translation
// API: the interactive and batch mapping endpoints, the FHIR R4
// façade, and the operational surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tm2bridge/tm2bridge/internal/audit"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/config"
	"github.com/tm2bridge/tm2bridge/internal/database"
	"github.com/tm2bridge/tm2bridge/internal/embedder"
	"github.com/tm2bridge/tm2bridge/internal/fhir"
	"github.com/tm2bridge/tm2bridge/internal/httpapi"
	"github.com/tm2bridge/tm2bridge/internal/jobqueue"
	"github.com/tm2bridge/tm2bridge/internal/llmadjudicator"
	"github.com/tm2bridge/tm2bridge/internal/pipeline"
	"github.com/tm2bridge/tm2bridge/internal/ratelimit"
	"github.com/tm2bridge/tm2bridge/internal/retriever"
	"github.com/tm2bridge/tm2bridge/internal/store"
	"github.com/tm2bridge/tm2bridge/internal/whoprobe"
)

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "path to a .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("no .env file loaded, continuing with process environment", "path", *envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Database)

	st := store.NewPostgresStore(db.DB)
	caches := cache.NewCaches(
		cfg.Cache.MappingsSize, cfg.Cache.MappingsTTL,
		cfg.Cache.EmbeddingsSize, cfg.Cache.EmbeddingsTTL,
		cfg.Cache.SearchSize, cfg.Cache.SearchTTL,
		cfg.Cache.FHIRSize, cfg.Cache.FHIRTTL,
	)
	limiter := ratelimit.New(cfg.RateLimit)
	defer limiter.Stop()

	emb := embedder.New(cfg.Embedder)
	ret := retriever.New(st)
	adj := llmadjudicator.New(cfg.LLM)
	pl := pipeline.New(emb, ret, adj, caches)

	auditRec := audit.New(st)
	defer auditRec.Stop()

	jobs := jobqueue.New(st, pl, cfg.Queue.MaxConcurrent, cfg.Queue.ItemDelay, cfg.Queue.Retention, nil)
	defer jobs.Stop()

	facade := fhir.New(st, pl, caches)
	probe := whoprobe.New(cfg.WHOProbe)

	server := httpapi.NewServer(cfg.Server, db, st, caches, limiter, pl, jobs, facade, auditRec, probe, emb)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}
	slog.Info("shutdown complete")
}

func setupLogger(format string) {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
