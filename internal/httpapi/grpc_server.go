package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"blindbid.org/internal/obs"
)

// GRPCServer serves grpc.health.v1.Health. The status of the overall server
// and of the blindbid service follows the readiness probe.
type GRPCServer struct {
	*health.Server
	readiness readinessChecker
}

// NewGRPCServer creates the health service wrapper.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{
		Server:    health.NewServer(),
		readiness: r,
	}
}

// Register attaches the health and reflection services to s.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
	reflection.Register(srv)
}

// Refresh re-runs the readiness probe and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.SetServingStatus("", st)
	s.SetServingStatus(serviceName, st)
	obs.SetReady(err == nil)
	return err
}

// Check evaluates readiness for the server and the blindbid service. On
// failure it returns codes.Unavailable.
func (s *GRPCServer) Check(ctx context.Context, in *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := in.GetService(); svc == "" || svc == serviceName {
		if err := s.Refresh(ctx); err != nil {
			return nil, status.Errorf(codes.Unavailable, "not ready: %v", err)
		}
	}
	return s.Server.Check(ctx, in)
}
