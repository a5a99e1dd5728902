// Package main is the entrypoint for the FridgeVision API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/internal/api"
	"github.com/coldcrate/fridgevision/internal/api/handler"
	mw "github.com/coldcrate/fridgevision/internal/api/middleware"
	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/catalog"
	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/internal/recipes"
	"github.com/coldcrate/fridgevision/internal/storage"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/internal/vision"
	"github.com/coldcrate/fridgevision/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast when it is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"vision_provider", cfg.Vision.Provider,
		"storage_backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create blob storage
	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	slog.Info("storage ready", "backend", cfg.Storage.Backend, "bucket", blobs.Bucket())

	// 6. Create vision provider
	provider, err := vision.New(cfg.Vision)
	if err != nil {
		return fmt.Errorf("create vision provider: %w", err)
	}
	slog.Info("vision provider initialized", "provider", provider.Name())

	// 7. Create store, then seed the first admin credential if needed
	pgStore := store.NewPostgresStore(pool)
	if err := bootstrapAdmin(ctx, pgStore, cfg.Server); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	categorizer := catalog.NewCategorizer(pgStore, provider, slog.Default())
	recipeClient := recipes.NewSpoonacularClient(cfg.Recipes)
	if !recipeClient.Configured() {
		slog.Info("recipe lookups disabled, SPOONACULAR_API_KEY not set")
	}

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		Health:              handler.NewHealthHandler(pgStore, redisCache),
		UploadSnapshot:      handler.NewUploadSnapshotHandler(pgStore, blobs),
		ListSnapshots:       handler.NewListSnapshotsHandler(pgStore),
		LatestSnapshot:      handler.NewLatestSnapshotHandler(pgStore),
		GetSnapshot:         handler.NewGetSnapshotHandler(pgStore),
		SnapshotStatus:      handler.NewSnapshotStatusHandler(pgStore, redisCache),
		RetrySnapshot:       handler.NewRetrySnapshotHandler(pgStore, redisCache),
		SnapshotComposition: handler.NewSnapshotCompositionHandler(pgStore),
		Inventory:           handler.NewInventoryHandler(pgStore, redisCache),
		Recipes:             handler.NewRecipesHandler(pgStore, recipeClient),
		ListProducts:        handler.NewListProductsHandler(pgStore),
		CategorizeProducts:  handler.NewCategorizeHandler(categorizer),
		CreateKey:           handler.NewCreateKeyHandler(pgStore),
		ListKeys:            handler.NewListKeysHandler(pgStore),
		RevokeKey:           handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// bootstrapAdmin creates the first user and an admin-scoped API key on an
// empty database. The raw key is logged exactly once; there is no other
// way to obtain a first credential.
func bootstrapAdmin(ctx context.Context, st store.Store, cfg config.ServerConfig) error {
	n, err := st.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New(),
		Email:     cfg.AdminEmail,
		Name:      cfg.AdminName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		// Another instance won the race to seed the same admin.
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("create admin user: %w", err)
	}

	raw, key, err := handler.GenerateAPIKey(user.ID, "bootstrap-admin", []string{"read", "write", "admin"})
	if err != nil {
		return err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store admin key: %w", err)
	}

	slog.Warn("bootstrap admin key created, store it now, it will not be shown again",
		"email", user.Email, "api_key", raw)
	return nil
}
