package handler

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"user-stream-ingestor/internal/pipeline"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "user-stream-ingestor"

// Pinger checks destination reachability (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateFunc reports the current pipeline state (e.g. (*pipeline.Driver).State).
type StateFunc func() pipeline.State

// Server implements grpc.health.v1.Health for readiness/liveness.
// SERVING means the pipeline is consuming and the destination answers a ping.
type Server struct {
	healthpb.UnimplementedHealthServer
	state  StateFunc
	pinger Pinger
}

// NewServer returns a new Health gRPC server. pinger may be nil to skip the destination check.
func NewServer(state StateFunc, pinger Pinger) *Server {
	return &Server{state: state, pinger: pinger}
}

// Ready returns nil when the ingestor is consuming and the destination is reachable.
func (s *Server) Ready(ctx context.Context) error {
	if s.state == nil {
		return errors.New("pipeline state unknown")
	}
	if st := s.state(); st != pipeline.StateConsuming {
		return fmt.Errorf("pipeline is %s", st)
	}
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			return fmt.Errorf("destination unreachable: %w", err)
		}
	}
	return nil
}

// Check returns SERVING or NOT_SERVING; readiness failures are never gRPC errors.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.Ready(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
