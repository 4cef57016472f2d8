package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tokensync/service/app"
	"github.com/brojonat/tokensync/service/config"
	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/server"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := app.SetupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	deps, err := app.Build(ctx, cfg, metricsCollector, logger, true)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Refresh events relayed over SSE (optional)
	var events *server.EventStream
	if cfg.NATSURL != "" {
		events, err = server.NewEventStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect event stream", "error", err)
			os.Exit(1)
		}
		defer events.Close()
	}

	httpServer := server.New(cfg.ServerAddr, deps.Service, deps.Cache, events, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"postgres", deps.Store != nil,
		"nats", events != nil,
		"wallet", cfg.WalletAddress,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		shutdownServer(httpServer, logger)
	}
}

func shutdownServer(httpServer *server.Server, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
		return
	}
	logger.Info("server shutdown complete")
}
