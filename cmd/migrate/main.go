package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/Datify-sh/Datify/internal/app/migrate"
	"github.com/Datify-sh/Datify/internal/repository/sqlite"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg := config.LoadDaemonConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open state store", "path", cfg.DatabaseURL, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	runner, err := migrate.New(db, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
