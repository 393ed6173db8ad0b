package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/docflow/internal/runtime"
	"github.com/rzbill/docflow/pkg/log"
)

// Server owns the gRPC server instance and the health service it exposes.
type Server struct {
	rt     *runtime.Runtime
	status ReplicaStatus
	health *health.Server
	grpc   *grpc.Server
	lis    net.Listener
	logger log.Logger
	every  time.Duration
}

// New constructs a gRPC server and registers the health service. status may
// be nil, in which case only backend health is reported.
func New(rt *runtime.Runtime, status ReplicaStatus, logger log.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		rt:     rt,
		status: status,
		health: health.NewServer(),
		grpc:   grpc.NewServer(opts...),
		logger: logger.WithComponent("grpc"),
		every:  500 * time.Millisecond,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("grpc listening", log.Str("addr", l.Addr().String()))
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done, refreshing health statuses meanwhile.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	go s.watch(ctx)
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
