package grpcx

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/glowslot/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server with tracing, request id propagation, call
// logging and the standard health service registered.
func NewServer(logger *slog.Logger, extra ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	}
	opts = append(opts, extra...)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchReadiness mirrors the readiness checks into the health status of
// service until ctx is done.
func WatchReadiness(ctx context.Context, hs *health.Server, service string, every time.Duration, logger *slog.Logger, checks ...runtime.ReadyCheck) {
	if every <= 0 {
		every = 10 * time.Second
	}
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if failures := runtime.RunChecks(ctx, checks...); len(failures) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("readiness checks failing", "failures", failures)
		}
		hs.SetServingStatus(service, status)
		hs.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
