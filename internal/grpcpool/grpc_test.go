package grpcpool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T) (*bufconn.Listener, *health.Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		_ = lis.Close()
	})
	return lis, hs
}

func bufFactory(lis *bufconn.Listener) *GRPCFactory {
	return &GRPCFactory{
		Target:         "passthrough:///bufnet",
		ConnectTimeout: 2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
}

func TestGRPCFactory_ConnectAndProbe(t *testing.T) {
	lis, hs := startHealthServer(t)
	f := bufFactory(lis)

	conn, err := f.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Probe(context.Background()))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Error(t, conn.Probe(context.Background()))
}

func TestGRPCFactory_ConnectTimeout(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())

	f := bufFactory(lis)
	f.ConnectTimeout = 100 * time.Millisecond

	_, err := f.Connect(context.Background())
	assert.Error(t, err)
}

func TestPool_WithGRPCFactory(t *testing.T) {
	lis, hs := startHealthServer(t)
	p := New[*GRPCConn](bufFactory(lis), Options{MaxConnections: 2})
	defer p.Close()
	ctx := context.Background()

	err := p.Do(ctx, func(ctx context.Context, c *GRPCConn) error {
		_, err := healthpb.NewHealthClient(c).Check(ctx, &healthpb.HealthCheckRequest{})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Metrics().Available)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Equal(t, 1, p.HealthCheck(ctx))
	assert.Equal(t, uint64(1), p.Metrics().HealthCheckFailures)
}

func TestPool_Collector(t *testing.T) {
	p := New[*fakeHandle](&fakeFactory{}, Options{MaxConnections: 3})
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(c)

	reg := prometheus.NewRegistry()
	col := p.Collector("gatekeeper", prometheus.Labels{"upstream": "stats"})
	require.NoError(t, reg.Register(col))

	assert.Equal(t, 8, testutil.CollectAndCount(col))
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 1.0, values["gatekeeper_pool_connections_active"])
	assert.Equal(t, 3.0, values["gatekeeper_pool_connections_max"])
}
