package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LLL3993/Music-Microservices/internal/broker"
	"github.com/LLL3993/Music-Microservices/internal/config"
	"github.com/LLL3993/Music-Microservices/internal/db"
	"github.com/LLL3993/Music-Microservices/internal/models"
	"github.com/LLL3993/Music-Microservices/internal/processor"
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

	logger.Info("🔥 Consumer initializing...", "inbox_backend", cfg.InboxBackend)

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

	var inboxStore service.InboxStore = db.NewInboxRepository(database)
	health := infra.HealthFunc(database.DB().PingContext)

	if cfg.InboxBackend == config.InboxBackendRedis {
		client, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("FATAL: redis connection failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		inboxStore = db.NewRedisInboxRepository(client)
		health = func(ctx context.Context) error {
			if err := database.DB().PingContext(ctx); err != nil {
				return err
			}
			return client.Ping(ctx).Err()
		}
	}

	claims := service.NewInboxService(inboxStore, service.UTCNow, logger)
	handler := processor.NewCascadeHandler(claims, db.NewListsRepository(database), database, logger)

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "CONSUMER", health, logger)

	consumer := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, models.QueueBindings, handler, cfg.PrefetchCount, cfg.RequeueDelay, logger)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer exited with error", "error", err)
	}
	logger.Info("✅ Shutdown complete")
}
