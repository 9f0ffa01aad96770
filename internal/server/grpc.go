package server

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
)

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the Routing service, the health service and reflection, and
// returns the server ready to serve.
func NewGRPCServer(rs *RoutingServer, opts ...grpc.ServerOption) *grpc.Server {
	logger := rs.logger.Named("grpc")
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
			ErrorInterceptor,
			AuthInterceptor(rs),
		),
	}, opts...)
	srv := grpc.NewServer(opts...)

	tracegatev1.RegisterRoutingServer(srv, rs)
	healthpb.RegisterHealthServer(srv, rs.health)
	reflection.Register(srv)

	logger.Debug("grpc services registered", zap.String("service", tracegatev1.ServiceName))
	return srv
}
