package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LLL3993/Music-Microservices/internal/broker"
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

	publisher := broker.NewReconnectingPublisher(
		broker.RabbitMQDialer(cfg.RabbitMQURL, cfg.PublishConfirmTimeout, logger),
		infra.NewBackoff(1*time.Second, 60*time.Second, 2.0),
		logger,
	)
	defer publisher.Close()
	go publisher.Maintain(ctx, time.Second)

	relay := service.NewRelay(db.NewOutboxRepository(database), publisher, logger, service.UTCNow, cfg.BatchSize)

	health := func(ctx context.Context) error {
		if err := database.DB().PingContext(ctx); err != nil {
			return err
		}
		if !publisher.IsHealthy() {
			return errors.New("broker link down")
		}
		return nil
	}
	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "RELAY", health, logger)

	logger.Info("🚀 Outbox relay started",
		"pid", os.Getpid(),
		"batch_size", cfg.BatchSize,
		"fixed_delay", cfg.PollInterval,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.MonitorBacklog(ctx, cfg.BacklogInterval, cfg.StuckAttempts)
	}()

	relay.Run(ctx, cfg.PollInterval)
	wg.Wait()
	logger.Info("✅ Shutdown complete")
}
