package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/cartservice/internal/app"
	"github.com/utafrali/cartservice/internal/config"
	"github.com/utafrali/cartservice/pkg/logger"
)

const serviceName = "cart-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("cart service exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("cart service stopped")
}

// run blocks until SIGINT or SIGTERM and the application has shut down.
func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("starting cart service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("store", cfg.Store),
		slog.String("catalog_url", cfg.CatalogBaseURL),
		slog.Bool("events_enabled", cfg.EventsEnabled),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
