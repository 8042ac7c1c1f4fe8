// Package app assembles the marketplace service and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	grpcAdapter "github.com/tonyging/jx3-trading-platform/internal/adapter/grpc"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/email"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/handler"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/middleware"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/router"
	natsAdapter "github.com/tonyging/jx3-trading-platform/internal/adapter/messaging/nats"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/repository/cache"
	mongoRepo "github.com/tonyging/jx3-trading-platform/internal/adapter/repository/mongodb"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/storage/s3"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/config"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
	"github.com/tonyging/jx3-trading-platform/internal/platform/tracer"
	"github.com/tonyging/jx3-trading-platform/internal/usecase"
	"github.com/tonyging/jx3-trading-platform/internal/worker"
)

const siteName = "JX3 Gold Market"

// App holds every long-lived resource of the service.
type App struct {
	cfg    *config.Config
	logger *logger.Logger

	tracerProvider *sdktrace.TracerProvider
	mongoClient    *mongo.Client
	redisClient    *redis.Client
	natsConn       *nats.Conn
	publisher      *natsAdapter.Publisher
	activity       *usecase.ActivityRecorder

	httpServer    *http.Server
	metricsServer *http.Server
	opsServer     *grpcAdapter.OpsServer
	reconciler    *worker.Reconciler
}

// New connects to the backing services and wires the usecases. Resources
// acquired before a failure are released.
func New(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: appLogger}
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
		}
	}()

	a.tracerProvider = tracer.InitTracer(cfg.ServiceName, cfg.OTelExporterOTLPEndpoint, appLogger)

	a.mongoClient, err = mongoRepo.NewClient(ctx, cfg.MongoURI, cfg.MongoUser, cfg.MongoPassword, appLogger)
	if err != nil {
		return nil, err
	}
	db := a.mongoClient.Database(cfg.MongoDatabase)

	a.redisClient, err = cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, appLogger)
	if err != nil {
		return nil, err
	}

	a.natsConn, err = natsAdapter.NewConnection(cfg.NATSURL, cfg.ServiceName, appLogger)
	if err != nil {
		return nil, err
	}
	a.publisher, err = natsAdapter.NewPublisher(a.natsConn, appLogger)
	if err != nil {
		return nil, err
	}

	storage, err := s3.NewS3Storage(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, appLogger)
	if err != nil {
		return nil, err
	}

	sender, err := email.NewSMTPSender(email.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		Sender:     cfg.SMTPSender,
		Encryption: cfg.SMTPEncryption,
	}, appLogger)
	if err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}
	mailer := email.NewCodeMailer(sender, siteName, cfg.VerificationCodeTTL)

	m := metrics.NewMetricsManager(metricsNamespace(cfg.ServiceName))

	listingRepo := mongoRepo.NewListingRepository(db, appLogger)
	transactionRepo := mongoRepo.NewTransactionRepository(db, appLogger)
	ratingRepo := mongoRepo.NewRatingRepository(db, appLogger)
	activityRepo := mongoRepo.NewActivityRepository(db, appLogger)
	userRepo := mongoRepo.NewUserRepository(db, appLogger)
	historyRepo := mongoRepo.NewLoginHistoryRepository(db, appLogger)
	listingCache := cache.NewListingCache(a.redisClient, appLogger)
	codes := cache.NewVerificationStore(a.redisClient, appLogger)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL, cfg.ServiceName)

	a.activity = usecase.NewActivityRecorder(activityRepo, a.publisher, m, appLogger)
	listings := usecase.NewListingUsecase(listingRepo, listingCache, a.activity, m, appLogger, cfg.ListingCacheTTL)
	reservations := usecase.NewReservationUsecase(listingRepo, transactionRepo, listingCache, a.activity, a.publisher, m, appLogger)
	transactions := usecase.NewTransactionUsecase(transactionRepo, listingRepo, listingCache, storage, a.activity, a.publisher, m, appLogger)
	ratings := usecase.NewRatingUsecase(ratingRepo, userRepo, a.activity, appLogger)
	activities := usecase.NewActivityUsecase(activityRepo, appLogger)
	users := usecase.NewUserUsecase(userRepo, historyRepo, codes, mailer, tokens, appLogger, usecase.UserUsecaseConfig{
		BcryptCost:          cfg.BcryptCost,
		VerificationCodeTTL: cfg.VerificationCodeTTL,
	})

	writer := response.NewWriter(appLogger, cfg.IsDevelopment())
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, writer, appLogger)
	mux := router.New(router.Deps{
		ServiceName: cfg.ServiceName,
		Handlers: router.Handlers{
			Products:     handler.NewProductHandler(listings, reservations, writer, appLogger),
			Transactions: handler.NewTransactionHandler(transactions, writer, appLogger),
			Ratings:      handler.NewRatingHandler(ratings, writer, appLogger),
			Activities:   handler.NewActivityHandler(activities, writer, appLogger),
			Users:        handler.NewUserHandler(users, writer, appLogger),
		},
		Authenticator: middleware.NewAuthenticator(tokens, userRepo, writer, appLogger),
		RateLimiter:   limiter,
		Writer:        writer,
		Metrics:       m,
		Logger:        appLogger,
	})
	a.httpServer = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	a.metricsServer = metrics.NewMetricsServer(cfg.PrometheusMetricsPort, appLogger, m)

	a.opsServer = grpcAdapter.NewOpsServer(cfg.ServiceName, map[string]grpcAdapter.Probe{
		"mongodb": func(ctx context.Context) error { return a.mongoClient.Ping(ctx, nil) },
		"redis":   func(ctx context.Context) error { return a.redisClient.Ping(ctx).Err() },
		"nats": func(context.Context) error {
			if !a.natsConn.IsConnected() {
				return fmt.Errorf("nats status %s", a.natsConn.Status())
			}
			return nil
		},
	}, appLogger)

	a.reconciler = worker.NewReconciler(listingRepo, transactionRepo, userRepo, listingCache, m, appLogger, limiter.Sweep)
	return a, nil
}

func metricsNamespace(serviceName string) string {
	ns := make([]rune, 0, len(serviceName))
	for _, r := range serviceName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			ns = append(ns, r)
		default:
			ns = append(ns, '_')
		}
	}
	return string(ns)
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", ":"+a.cfg.GRPCPort)
	if err != nil {
		a.closeResources(context.Background())
		return fmt.Errorf("listen grpc on %s: %w", a.cfg.GRPCPort, err)
	}

	if err := a.reconciler.Start(a.cfg.ReconcileSchedule); err != nil {
		_ = grpcLis.Close()
		a.closeResources(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			a.logger.Info("Starting Prometheus metrics server", zap.String("addr", a.metricsServer.Addr))
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.opsServer.Serve(gctx, grpcLis); err != nil {
			return fmt.Errorf("grpc ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down", zap.NamedError("cause", context.Cause(gctx)))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		a.shutdown(shutdownCtx)
		return nil
	})
	return g.Wait()
}

// shutdown stops intake first, then background work, then the clients.
func (a *App) shutdown(ctx context.Context) {
	a.opsServer.Stop()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	a.reconciler.Stop(ctx)
	a.closeResources(ctx)
	a.logger.Info("Shutdown complete")
}

// closeResources releases clients in reverse acquisition order. Nil fields
// are skipped so it is safe on a partially built App.
func (a *App) closeResources(ctx context.Context) {
	if a.activity != nil {
		done := make(chan struct{})
		go func() {
			a.activity.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("Pending activity records abandoned at shutdown")
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	} else if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			a.logger.Error("Error disconnecting from MongoDB", zap.Error(err))
		} else {
			a.logger.Info("Disconnected from MongoDB")
		}
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Error("Failed to shut down tracer provider", zap.Error(err))
		}
	}
}
