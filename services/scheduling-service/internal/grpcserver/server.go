// Package grpcserver exposes the standard gRPC health service for the
// scheduling service. Serving status follows the same dependency checks as
// /readyz.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/grpcx"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key callers check besides "".
const ServiceName = "studiobook.scheduling.v1.Scheduling"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	checks []runtime.ReadyCheck
	logger *slog.Logger
	every  time.Duration
}

func New(logger *slog.Logger, every time.Duration, checks ...runtime.ReadyCheck) *Server {
	if every <= 0 {
		every = 10 * time.Second
	}
	srv := grpc.NewServer(grpcx.ServerOptions()...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{grpc: srv, health: hs, checks: checks, logger: logger, every: every}
}

// Refresh runs the checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if failures := runtime.RunChecks(ctx, s.checks...); len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.WarnContext(ctx, "grpc health not serving", "failures", strings.Join(failures, "; "))
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Serve blocks until ctx is cancelled, refreshing health on every tick.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc server starting", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
