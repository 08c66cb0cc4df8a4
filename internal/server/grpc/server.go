package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the account API.
const ServiceName = "sessionkit.Accounts"

// New builds the side listener: the standard health service behind recover,
// logging and bearer-token auth. A successful Check therefore also proves the
// caller's access token is valid.
func New(parse TokenParser, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("grpc")
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			AuthUnary(parse),
		),
		grpc.ChainStreamInterceptor(AuthStream(parse)),
	)
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}
