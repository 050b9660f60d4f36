package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"lernia.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// NewGRPCServer exposes the standard gRPC health service so orchestrators
// can probe the process without going through HTTP.
func NewGRPCServer(r readinessChecker) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, hs)
	return srv, hs
}

// UpdateGRPCHealth re-evaluates readiness and reflects it in the health
// service and the readiness gauge.
func UpdateGRPCHealth(ctx context.Context, r readinessChecker, hs *health.Server) {
	if err := r.Check(ctx); err != nil {
		obs.SetReady(false)
		hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	hs.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
}
