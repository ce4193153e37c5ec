package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LLL3993/Music-Microservices/internal/api"
	"github.com/LLL3993/Music-Microservices/internal/config"
	"github.com/LLL3993/Music-Microservices/internal/db"
	"github.com/LLL3993/Music-Microservices/internal/service"
	"github.com/LLL3993/Music-Microservices/pkg/infra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("FATAL: invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("FATAL: database connection failed", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx); err != nil {
			logger.Error("FATAL: migrations failed", "error", err)
			os.Exit(1)
		}
	}

	emitter := service.NewEventEmitter(db.NewOutboxRepository(database), service.UTCNow, logger)
	catalog := service.NewCatalogService(database, db.NewCatalogRepository(database), emitter, logger)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(catalog, database.DB(), logger),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "API", database.DB().PingContext, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
	}()

	logger.Info("🚀 Catalog API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("FATAL: HTTP server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("✅ Shutdown complete")
}
