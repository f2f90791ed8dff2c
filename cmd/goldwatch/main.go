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

	"goldwatch/internal/browser"
	"goldwatch/internal/config"
	"goldwatch/internal/gold"
	"goldwatch/internal/platform/sqlite"
	observationrepo "goldwatch/internal/repository/observation"
	settingsrepo "goldwatch/internal/repository/settings"
	"goldwatch/internal/scheduler"
	"goldwatch/internal/scrape"
	"goldwatch/internal/server"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Root context: cancelled on SIGINT/SIGTERM so in-flight browser scrapes
	// stop promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Open database
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Repositories
	observationRepo := observationrepo.NewRepository(db.DB)
	settingsRepo := settingsrepo.NewRepository(db.DB)

	// Browser driver and scrape pipeline
	driver := browser.New(
		browser.WithExecPath(cfg.Browser.ExecPath),
		browser.WithQuiesceTimeout(cfg.QuiesceTimeout()),
		browser.WithCaptureTimeout(cfg.CaptureTimeout()),
	)
	pipeline := scrape.NewPipeline(driver, settingsRepo, observationRepo)

	// Services
	priceSvc := gold.NewService(observationRepo, pipeline)
	sched := scheduler.New(rootCtx, pipeline, settingsRepo)
	defer sched.Stop()

	// HTTP server — rootCtx is used as BaseContext so every request context
	// inherits from it and is cancelled on shutdown.
	srv := server.New(rootCtx, cfg.Server.Port, priceSvc, pipeline, settingsRepo, sched, cfg.Cron.Secret)

	// Adopt any persisted schedule without waiting for the first request.
	go sched.EnsureStartedFromPersisted()

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Server.Port)
	<-done

	// Cancel root context first so in-flight scrapes begin winding down
	// immediately, then drain connections with a deadline.
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
