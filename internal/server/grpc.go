// Package server hosts the operational endpoints of the ingestor: gRPC health and HTTP metrics.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "user-stream-ingestor/internal/health/handler"
)

// Deps holds the handlers served over gRPC.
type Deps struct {
	// Health answers grpc.health.v1 checks. If nil, no service is registered.
	Health *healthhandler.Server
}

// NewGRPCServer returns a server instrumented with otelgrpc and with deps registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}
