package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"folio/api/internal/app"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/history"
	"folio/api/internal/logging"
	"folio/api/internal/search"
	"folio/api/internal/sections"
	"folio/api/internal/store"
)

func main() {
	cfg := config.Load()
	var migrateOnly bool

	rootCmd := &cobra.Command{
		Use:           "folio-api",
		Short:         "Folio document API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, migrateOnly)
		},
	}
	rootCmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	rootCmd.Flags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres:// or sqlite:// database url")
	rootCmd.Flags().StringVar(&cfg.KindsDir, "kinds-dir", cfg.KindsDir, "directory of kind registries overriding the builtin ones")
	rootCmd.Flags().BoolVar(&migrateOnly, "migrate-only", false, "apply migrations and exit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, migrateOnly bool) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if migrateOnly {
		logger.Info("migrations applied", zap.String("dialect", string(dialect)))
		return nil
	}

	catalog, err := sections.Load(cfg.KindsDir)
	if err != nil {
		return err
	}

	documents := store.NewDocumentStore(db, dialect)
	opts := []app.Option{app.WithLogger(logger)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		listCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.ListCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer listCache.Close()
		logger.Info("using redis list cache", zap.Duration("ttl", cfg.ListCacheTTL))
		opts = append(opts, app.WithCache(listCache))
	}

	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fmt.Errorf("failed to create history dir: %w", err)
		}
		opts = append(opts, app.WithHistory(history.New(cfg.HistoryDir)))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	fallback := search.NewDatabase(documents, func(rec store.DocumentRecord) string {
		reg, ok := catalog.Get(rec.Kind)
		if !ok {
			return ""
		}
		return reg.Title(rec.Document())
	})
	searchService := search.NewService(meiliClient, fallback, logger)
	defer searchService.Wait()
	opts = append(opts, app.WithSearch(searchService))

	service := app.NewService(catalog, documents, opts...)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error (will retry on next restart)", zap.Error(err))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("folio API listening", zap.String("addr", cfg.Addr), zap.Strings("kinds", catalog.Kinds()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}
