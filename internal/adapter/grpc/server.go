// Package grpc exposes the operational gRPC endpoint: the standard health
// protocol plus reflection for grpcurl.
package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

const defaultProbeInterval = 15 * time.Second

// Probe checks one backing dependency.
type Probe func(ctx context.Context) error

// OpsServer serves grpc.health.v1 for the whole service and per dependency.
type OpsServer struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	probes      map[string]Probe
	interval    time.Duration
	logger      *logger.Logger
}

// NewOpsServer builds the server. Each probe name becomes a health service
// name; the overall service is SERVING only while every probe passes.
func NewOpsServer(serviceName string, probes map[string]Probe, appLogger *logger.Logger) *OpsServer {
	log := appLogger.Named("grpc")
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(otel.GetTracerProvider()),
			otelgrpc.WithPropagators(otel.GetTextMapPropagator()),
		)),
		grpc.ChainUnaryInterceptor(LoggingInterceptor(log)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return &OpsServer{
		server:      server,
		health:      healthServer,
		serviceName: serviceName,
		probes:      probes,
		interval:    defaultProbeInterval,
		logger:      log,
	}
}

// CheckNow runs every probe once and publishes the statuses.
func (s *OpsServer) CheckNow(ctx context.Context) bool {
	healthy := true
	for name, probe := range s.probes {
		probeCtx, cancel := context.WithTimeout(ctx, s.interval/3)
		err := probe(probeCtx)
		cancel()

		st := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("Dependency probe failed", zap.String("dependency", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, st)
	}
	overall := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(s.serviceName, overall)
	s.health.SetServingStatus("", overall)
	return healthy
}

// Serve blocks until the listener fails or Stop is called. Probes are
// re-run every interval while serving.
func (s *OpsServer) Serve(ctx context.Context, lis net.Listener) error {
	s.CheckNow(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CheckNow(ctx)
			}
		}
	}()

	s.logger.Info("Starting gRPC ops server", zap.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks everything NOT_SERVING and drains in-flight RPCs.
func (s *OpsServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("gRPC ops server stopped")
}

// LoggingInterceptor logs each unary call with its trace id.
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("status_code", status.Code(err).String()),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		if err != nil {
			log.Error("gRPC request failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("gRPC request completed", fields...)
		}
		return resp, err
	}
}
