// Package grpc serves the gatekeeper AuthService and UserStatsService along
// with the standard grpc.health.v1 service.
package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Deps are the collaborators of the gRPC server. Admission and Metrics may
// be nil.
type Deps struct {
	Users     UserService
	Tokens    TokenService
	Admission Admitter
	Metrics   *metrics.Metrics
	Logger    logging.Logger

	// RelayKey, when set, exempts calls carrying it from admission.
	RelayKey string
}

type GRPCServer struct {
	address   string
	users     UserService
	tokens    TokenService
	admission Admitter
	relayKey  string
	metrics   *metrics.Metrics
	logger    logging.Logger
	health    *health.Server
}

func NewGRPCServer(address string, d Deps) *GRPCServer {
	return &GRPCServer{
		address:   address,
		users:     d.Users,
		tokens:    d.Tokens,
		admission: d.Admission,
		relayKey:  d.RelayKey,
		metrics:   d.Metrics,
		logger:    d.Logger.With("module", "grpc_server"),
		health:    health.NewServer(),
	}
}

// Health exposes the health server so readiness can be changed at runtime.
func (s *GRPCServer) Health() *health.Server { return s.health }

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.observeInterceptor,
		s.identifyInterceptor,
		s.admissionInterceptor,
		s.requireAuthInterceptor,
	))

	rpcapi.RegisterAuthServiceServer(srv, &authHandler{s})
	rpcapi.RegisterUserStatsServiceServer(srv, &statsHandler{s})
	healthpb.RegisterHealthServer(srv, s.health)

	for _, name := range []string{"", rpcapi.AuthServiceName, rpcapi.UserStatsServiceName} {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	<-stopped
	return nil
}
