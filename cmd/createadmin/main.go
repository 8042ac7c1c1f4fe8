// Command createadmin creates or resets the administrator account named by
// ADMIN_EMAIL, using the same MongoDB settings as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	mongoRepo "github.com/tonyging/jx3-trading-platform/internal/adapter/repository/mongodb"
	"github.com/tonyging/jx3-trading-platform/internal/config"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/usecase"
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
	appLogger := logger.NewLogger(cfg.LoggerOptions()).Named("createadmin")
	defer func() { _ = appLogger.Sync() }()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Failed to set up administrator account", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := mongoRepo.NewClient(ctx, cfg.MongoURI, cfg.MongoUser, cfg.MongoPassword, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Warn("Error disconnecting from MongoDB", zap.Error(err))
		}
	}()

	users := mongoRepo.NewUserRepository(client.Database(cfg.MongoDatabase), log)
	admin, created, err := usecase.EnsureAdmin(ctx, users, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName, cfg.BcryptCost, log)
	if err != nil {
		return err
	}
	if created {
		log.Info("Administrator created", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
	} else {
		log.Info("Existing account promoted to administrator", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
	}
	return nil
}
