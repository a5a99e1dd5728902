// Package main is the entrypoint for the FridgeVision ingestion worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/internal/ingest"
	"github.com/coldcrate/fridgevision/internal/storage"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/internal/vision"
	"github.com/coldcrate/fridgevision/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"vision_provider", cfg.Vision.Provider,
		"concurrency", cfg.Worker.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations are the server's job; the worker only expects the schema
	// to already be in place.
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	slog.Info("storage ready", "backend", cfg.Storage.Backend, "bucket", blobs.Bucket())

	provider, err := vision.New(cfg.Vision)
	if err != nil {
		return fmt.Errorf("create vision provider: %w", err)
	}
	slog.Info("vision provider initialized", "provider", provider.Name())

	pipeline := ingest.NewPipeline(provider, cfg.Vision.Prompt, cfg.Ingest.RawOutputLimitBytes)

	pgStore := store.NewPostgresStore(pool)
	workers := worker.NewPool(pgStore, redisCache, blobs, pipeline, worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		Backoff:      worker.Linear(cfg.Worker.BackoffBase),
	}, slog.Default())

	slog.Info("worker pool starting",
		"concurrency", cfg.Worker.Concurrency,
		"poll_interval", cfg.Worker.PollInterval.String(),
		"max_attempts", cfg.Worker.MaxAttempts)

	if err := workers.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
