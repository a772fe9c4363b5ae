package grpcpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// IsUnavailable reports a gRPC Unavailable status, the code for broken
// transports.
func IsUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// GRPCConn is a pooled gRPC client connection.
type GRPCConn struct {
	*grpc.ClientConn
	health  healthpb.HealthClient
	service string
}

// Probe checks the channel state and asks the standard health service
// whether Service is serving.
func (c *GRPCConn) Probe(ctx context.Context) error {
	switch s := c.GetState(); s {
	case connectivity.Shutdown, connectivity.TransientFailure:
		return fmt.Errorf("channel %s", s)
	}
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service %q is %s", c.service, resp.GetStatus())
	}
	return nil
}

// GRPCFactory opens connections to Target and waits until they are Ready.
type GRPCFactory struct {
	Target         string
	ConnectTimeout time.Duration
	// HealthService is the name probed through grpc.health.v1; empty means
	// the server as a whole.
	HealthService string
	DialOptions   []grpc.DialOption
}

var errConnShutdown = errors.New("connection shut down while connecting")

func (f *GRPCFactory) Connect(ctx context.Context) (*GRPCConn, error) {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, f.DialOptions...)
	cc, err := grpc.NewClient(f.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", f.Target, err)
	}

	if f.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.ConnectTimeout)
		defer cancel()
	}

	cc.Connect()
	for {
		s := cc.GetState()
		if s == connectivity.Ready {
			break
		}
		if s == connectivity.Shutdown {
			_ = cc.Close()
			return nil, errConnShutdown
		}
		if !cc.WaitForStateChange(ctx, s) {
			_ = cc.Close()
			return nil, fmt.Errorf("connect %s: %w", f.Target, ctx.Err())
		}
	}

	return &GRPCConn{ClientConn: cc, health: healthpb.NewHealthClient(cc), service: f.HealthService}, nil
}
