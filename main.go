package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	service "github.com/0xRichardL/vibe-copy-trading/licensing/internal"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/config"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	newLogger := zap.NewProduction
	if cfg.Development() {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("licensing")

	app, err := service.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build service", zap.Error(err))
	}

	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}
