package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard gRPC health service so orchestrators
// can probe the process over gRPC. Domain queries are served over the
// HTTP JSON API.
type GRPCServer struct {
	addr       string
	grpcServer *grpc.Server
	health     *health.Server
	logger     zerolog.Logger
}

func NewGRPCServer(addr string, logger zerolog.Logger) *GRPCServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)
	return &GRPCServer{
		addr:       addr,
		grpcServer: s,
		health:     h,
		logger:     logger,
	}
}

// SetServing flips the health status reported to gRPC probes.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Run serves until ctx is cancelled, then drains gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("grpc server listening")
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
