package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/LLL3993/Music-Microservices/internal/config"
	"github.com/LLL3993/Music-Microservices/internal/db"
	"github.com/LLL3993/Music-Microservices/pkg/infra"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [up|down|version]\n", os.Args[0])
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("FATAL: invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := infra.SetupLogger(cfg)
	defer infra.CloseLogger()

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("FATAL: database connection failed", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	switch command {
	case "up":
		err = database.Migrate(ctx)
	case "down":
		err = database.MigrateDown(ctx)
	case "version":
		var v int64
		v, err = database.SchemaVersion(ctx)
		if err == nil {
			logger.Info("Current schema version", "version", v)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("FATAL: migrate command failed", "command", command, "error", err)
		os.Exit(1)
	}
}
