package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes a Checker over the standard gRPC health protocol, so
// orchestrators can check the API and the import workers the same way.
type Server struct {
	grpcServer      *grpc.Server
	listener        net.Listener
	healthServer    *grpchealth.Server
	checker         *Checker
	interval        time.Duration
	gracefulTimeout time.Duration
	logger          *slog.Logger
}

// NewServer listens on addr and registers the health service. The serving
// status is refreshed from checker every interval while Serve runs.
func NewServer(addr string, checker *Checker, interval time.Duration, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		grpcServer:      grpcServer,
		listener:        listener,
		healthServer:    healthServer,
		checker:         checker,
		interval:        interval,
		gracefulTimeout: 5 * time.Second,
		logger:          logger,
	}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Refresh runs the checks once and publishes the result. Degraded still
// counts as serving.
func (s *Server) Refresh(ctx context.Context) {
	report := s.checker.Run(ctx)
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if report.IsUnhealthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("health check failed", "message", report.Message, "details", report.Details)
	}
	s.healthServer.SetServingStatus("", status)
}

// Serve blocks until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			errCh <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()

	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.healthServer.Shutdown()
			s.gracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) gracefulStop() {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.gracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		s.grpcServer.Stop()
	}
}
