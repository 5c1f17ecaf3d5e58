// Package grpcutil provides the gRPC server, a struct-message service
// builder and error mapping shared by the evalbench services.
package grpcutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	Port              int
	ServiceName       string
	EnableReflection  bool
	EnableHealthCheck bool
	EnableTracing     bool
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	MaxRecvMsgSize    int
	MaxSendMsgSize    int
	UnaryInterceptors []grpc.UnaryServerInterceptor
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig(port int, serviceName string) ServerConfig {
	return ServerConfig{
		Port:              port,
		ServiceName:       serviceName,
		EnableReflection:  true,
		EnableHealthCheck: true,
		ShutdownTimeout:   30 * time.Second,
		RequestTimeout:    time.Minute,
		MaxRecvMsgSize:    16 * 1024 * 1024, // 16MB
		MaxSendMsgSize:    16 * 1024 * 1024, // 16MB
	}
}

// Server wraps a gRPC server with lifecycle management.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	config       ServerConfig
	logger       *slog.Logger
}

// NewServer creates a gRPC server and registers the given services on it.
func NewServer(cfg ServerConfig, logger *slog.Logger, services ...*Service) *Server {
	unary := []grpc.UnaryServerInterceptor{
		LoggingUnaryInterceptor(logger),
		RecoveryUnaryInterceptor(logger),
	}
	if cfg.EnableTracing {
		unary = append(unary, TracingUnaryInterceptor(cfg.ServiceName))
	}
	if cfg.RequestTimeout > 0 {
		unary = append(unary, TimeoutUnaryInterceptor(cfg.RequestTimeout))
	}
	unary = append(unary, cfg.UnaryInterceptors...)

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
		grpc.ChainUnaryInterceptor(unary...),
	)

	s := &Server{
		grpcServer: grpcServer,
		config:     cfg,
		logger:     logger,
	}

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	if cfg.EnableHealthCheck {
		s.healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, s.healthServer)
		s.healthServer.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	for _, svc := range services {
		svc.Register(grpcServer)
		if s.healthServer != nil {
			s.healthServer.SetServingStatus(svc.Name(), grpc_health_v1.HealthCheckResponse_SERVING)
		}
	}

	return s
}

// GRPCServer returns the underlying gRPC server.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// SetServingStatus sets the health check status.
func (s *Server) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if s.healthServer != nil {
		s.healthServer.SetServingStatus(s.config.ServiceName, status)
	}
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server starting", "addr", lis.Addr().String(), "service", s.config.ServiceName)
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Run listens on the configured port and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case err := <-errCh:
		return err
	}

	s.Shutdown()
	return <-errCh
}

// Shutdown stops accepting calls and waits for in-flight calls up to the
// configured timeout before forcing a stop.
func (s *Server) Shutdown() {
	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout)

	s.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("graceful shutdown completed")
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timed out, forcing stop")
		s.grpcServer.Stop()
	}
}
