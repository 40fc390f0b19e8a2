package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/archive"
	"github.com/cgs-mvp/cgs/go/engine/internal/auth"
	"github.com/cgs-mvp/cgs/go/engine/internal/circuitbreaker"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/db"
	"github.com/cgs-mvp/cgs/go/engine/internal/embeddings"
	"github.com/cgs-mvp/cgs/go/engine/internal/health"
	"github.com/cgs-mvp/cgs/go/engine/internal/httpapi"
	"github.com/cgs-mvp/cgs/go/engine/internal/llm"
	"github.com/cgs-mvp/cgs/go/engine/internal/pricing"
	"github.com/cgs-mvp/cgs/go/engine/internal/storage"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
	"github.com/cgs-mvp/cgs/go/engine/internal/tools"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
	"github.com/cgs-mvp/cgs/go/engine/internal/validation"
	"github.com/cgs-mvp/cgs/go/engine/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable", zap.Error(err))
	}
	circuitbreaker.StartMetricsCollection(ctx)

	dbClient, err := db.NewClient(cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()

	hm := health.NewManager(5*time.Second, logger)
	hm.Register(health.NewPingChecker("database", true, dbClient.Ping, dbClient.Wrapper().IsOpen))

	var redisWrapper *circuitbreaker.RedisWrapper
	if cfg.Redis.Enabled {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rc.Close()
		redisWrapper = circuitbreaker.NewRedisWrapper(rc, "redis", logger)
		hm.Register(health.NewPingChecker("redis", false, redisWrapper.Ping, redisWrapper.IsOpen))
	}

	table, err := pricing.Load(cfg.Pricing.File, logger)
	if err != nil {
		logger.Fatal("Failed to load pricing", zap.String("file", cfg.Pricing.File), zap.Error(err))
	}
	if cfg.Pricing.File != "" && cfg.Pricing.Watch {
		go func() {
			if err := table.Watch(ctx); err != nil {
				logger.Warn("Pricing hot reload stopped", zap.Error(err))
			}
		}()
	}
	gateways := llm.NewRegistryFromConfig(cfg.LLM, table, logger)

	streamOpts := []streaming.Option{streaming.WithRetention(cfg.Streaming.Retention)}
	if cfg.Streaming.RedisMirror && redisWrapper != nil {
		streamOpts = append(streamOpts, streaming.WithRedisMirror(redisWrapper))
	}
	streams := streaming.NewManager(cfg.Streaming.Capacity, logger, streamOpts...)

	repo := archive.NewRepository(dbClient.Wrapper(), logger)
	var embedder archive.Embedder
	if cfg.LLM.OpenAIAPIKey != "" {
		var cache embeddings.Cache
		if redisWrapper != nil {
			cache = embeddings.NewRedisCache(redisWrapper)
		}
		embedder = embeddings.NewService(cfg.Embeddings, cfg.LLM, cache, logger)
	}
	archiveSvc := archive.NewService(dbClient.Wrapper(), repo, embedder, validation.New(), logger)

	var (
		researcher tools.Researcher
		images     tools.ImageGenerator
		blobs      tools.BlobStore
		signer     httpapi.URLSigner
	)
	if cfg.Tools.PerplexityAPIKey != "" {
		researcher = tools.NewPerplexityClient(cfg.Tools, logger)
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		images = tools.NewDalleGenerator(cfg.Tools, cfg.LLM, nil, logger)
	}
	if cfg.Storage.SupabaseURL != "" {
		sc := storage.NewClient(cfg.Storage, logger)
		blobs, signer = sc, sc
	}
	toolExec := tools.NewExecutor(researcher, images, blobs, dbClient, logger)

	executor := workflow.NewExecutor(dbClient, repo, toolExec, gateways, cfg.Workflow, logger,
		workflow.WithPublisher(streams),
		workflow.WithLogQueue(dbClient),
	)

	if cfg.Auth.JWTSecret == "" && !cfg.Auth.SkipAuth {
		logger.Fatal("auth.jwt_secret is required unless auth.skip_auth is set")
	}
	if cfg.Auth.SkipAuth {
		logger.Warn("Authentication disabled; every request acts as the development user")
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Runs:     dbClient,
		Executor: executor,
		Streams:  streams,
		Archive:  archiveSvc,
		Contexts: dbClient,
		Outputs:  dbClient,
		Signer:   signer,
		Auth:     auth.NewMiddleware(auth.NewJWTManager(cfg.Auth.JWTSecret, time.Hour), cfg.Auth.SkipAuth, logger),
		Health:   hm,
		Metrics:  cfg.Metrics.Enabled,
		Logger:   logger,
	})

	// no write timeout: execution responses stream for the length of a run
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.HTTP.Port), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
}
