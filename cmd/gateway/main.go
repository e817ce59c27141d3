// Package main is the entry point for the gateway core HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llmgateway/core/internal/config"
	"github.com/llmgateway/core/internal/credential"
	"github.com/llmgateway/core/internal/dispatch"
	"github.com/llmgateway/core/internal/finalize"
	"github.com/llmgateway/core/internal/keyvalidate"
	"github.com/llmgateway/core/internal/prepare"
	"github.com/llmgateway/core/internal/registry"
	"github.com/llmgateway/core/internal/server"
	"github.com/llmgateway/core/internal/store/postgres"
	"github.com/llmgateway/core/internal/usage"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Server.LogLevel)

	reg, err := registry.New(registry.DefaultProviders(), registry.DefaultModels())
	if err != nil {
		log.Fatalf("failed to build registry: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := buildCredentialStore(ctx, cfg, logger)

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: 120 * time.Second}
	images := prepare.NewImageResolver(httpClient, cfg.IsProd)
	preparer := prepare.New(images)
	estimator := usage.NewEstimator()

	d := dispatch.New(reg, creds, preparer, estimator, httpClient, store.Logs(), logger)
	d.UseResponsesAPI = cfg.UseResponsesAPI
	d.GatewayURL = cfg.GatewayURL

	// The Key Validator isn't wired to an HTTP route yet (§4.7 leaves the
	// trigger — UI action, cron, webhook — to the caller); constructing it
	// here keeps it ready for whichever surface is added next.
	_ = keyvalidate.New(reg, preparer, httpClient)

	worker := finalize.New(store.Logs(), store.Locks(), reg, logger)
	worker.TickInterval = cfg.FinalizeTickInterval
	worker.LeaseDuration = time.Duration(cfg.LockDurationMinutes) * time.Minute
	go worker.Run(ctx)

	srv := server.New(d, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server: graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("gateway listening", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// buildCredentialStore picks RedisStore when RedisURL is configured
// (multi-instance deployments), falling back to an in-process MemoryStore
// seeded from each provider's configured API key (single-box / credits-mode
// deployments, §4.3 step 3).
func buildCredentialStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) credential.Store {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to parse REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		return credential.NewRedisStore(client, "gateway:cred")
	}

	mem := credential.NewMemoryStore()
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			mem.SetPlatformKey(name, p.APIKey)
			logger.Info("registered platform credential", "provider", name)
		}
	}
	return mem
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
