package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Datify-sh/Datify/internal/app/migrate"
	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/engine"
	httpx "github.com/Datify-sh/Datify/internal/http"
	"github.com/Datify-sh/Datify/internal/repository/sqlite"
	"github.com/Datify-sh/Datify/internal/service/auth"
	"github.com/Datify-sh/Datify/internal/service/database"
	"github.com/Datify-sh/Datify/internal/service/dbconfig"
	"github.com/Datify-sh/Datify/internal/service/metrics"
	"github.com/Datify-sh/Datify/internal/service/project"
	"github.com/Datify-sh/Datify/internal/service/system"
	"github.com/Datify-sh/Datify/internal/ws"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/crypto"
	"github.com/Datify-sh/Datify/pkg/logger"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.LoadDaemonConfig()
	log := logger.New("datify", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open state store", "path", cfg.DatabaseURL, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	runner, err := migrate.New(db, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("state store ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(2)
	}

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Error("credential vault unavailable, set ENCRYPTION_KEY", "error", err)
		os.Exit(1)
	}

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker daemon unreachable", "error", err)
		os.Exit(1)
	}

	repo := sqlite.New(db)
	hub := ws.NewHub()
	adapters := engine.NewRegistry(dockerClient)

	authSvc := auth.New(repo, repo, cfg, log)
	go authSvc.Run(ctx)

	databaseSvc := database.New(repo, repo, dockerClient, adapters, vault, log, cfg)
	projectSvc := project.New(repo, repo, databaseSvc, log)
	configSvc := dbconfig.New(repo, repo, adapters, vault, log)
	systemSvc := system.New(repo, dockerClient, adapters, log, version, time.Now())

	metricsSvc := metrics.New(repo, repo, repo, dockerClient, vault, hub, log, cfg)
	go metricsSvc.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()

	router := httpx.NewRouter(log, cfg, authSvc, projectSvc, databaseSvc, metricsSvc, configSvc, systemSvc, dockerClient, adapters, hub, limiter, db.PingContext)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("datify daemon starting", "addr", srv.Addr, "version", version)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("datify daemon stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
