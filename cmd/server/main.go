package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/app"
	"github.com/tonyging/jx3-trading-platform/internal/config"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("INFO: .env file not found or error loading: %v. Relying on OS environment variables.\n", err)
	}

	bootLogger := logger.NewLogger(logger.BootstrapOptions())
	cfg, err := config.LoadConfig(bootLogger)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	_ = bootLogger.Sync()

	appLogger := logger.NewLogger(cfg.LoggerOptions()).With(zap.String("service_name", cfg.ServiceName))
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info("Application starting...",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("app_env", cfg.AppEnv),
		zap.Bool("mongo_uri_set", cfg.MongoURI != ""),
		zap.String("nats_url", cfg.NATSURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize application", zap.Error(err))
		stop()
		os.Exit(1)
	}
	if err := application.Run(ctx); err != nil {
		appLogger.Error("Application stopped with error", zap.Error(err))
		stop()
		os.Exit(1)
	}
	appLogger.Info("Application stopped")
}
