// Package downstream calls the user statistics service over pooled gRPC
// connections, forwarding the caller's bearer token.
package downstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/grpcpool"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Pool runs a call on a pooled connection.
type Pool interface {
	Do(ctx context.Context, fn func(ctx context.Context, c *grpcpool.GRPCConn) error) error
}

type UserStatsClient struct {
	pool     Pool
	timeout  time.Duration
	relayKey string
	logger   logging.Logger
}

// NewUserStatsClient bounds every call by timeout; zero leaves the caller's
// deadline alone.
func NewUserStatsClient(pool Pool, timeout time.Duration, logger logging.Logger) *UserStatsClient {
	return &UserStatsClient{
		pool:    pool,
		timeout: timeout,
		logger:  logger.With("module", "userstats_client"),
	}
}

// WithRelayKey makes every call carry key so that our own gRPC listener
// skips admission for it. Only set it when the upstream is this process.
func (c *UserStatsClient) WithRelayKey(key string) *UserStatsClient {
	c.relayKey = key
	return c
}

// GetCurrentUserStats fetches the statistics of the account accessToken
// belongs to.
func (c *UserStatsClient) GetCurrentUserStats(ctx context.Context, accessToken string) (*rpcapi.UserStats, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, common.BearerPrefix+accessToken)
	if c.relayKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, common.RelayKeyHeaderName, c.relayKey)
	}

	var (
		out     *rpcapi.UserStats
		trailer metadata.MD
	)
	err := c.pool.Do(ctx, func(ctx context.Context, conn *grpcpool.GRPCConn) error {
		var err error
		out, err = rpcapi.NewUserStatsServiceClient(conn).GetCurrentUserStats(ctx, &rpcapi.GetCurrentUserStatsRequest{}, grpc.Trailer(&trailer))
		return err
	})
	if err != nil {
		err = fromStatus(err, trailer)
		c.logger.Debug(ctx, "user stats call failed", "error", err)
		return nil, err
	}
	return out, nil
}

// fromStatus turns a downstream status into the error the local transports
// already know how to report. Pool errors are returned unchanged.
func fromStatus(err error, trailer metadata.MD) error {
	if errors.Is(err, common.ErrPoolTimeout) || errors.Is(err, common.ErrPoolClosed) ||
		errors.Is(err, common.ErrConnectionFailed) || errors.Is(err, common.ErrTimeout) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", common.ErrorUnauthorized, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, st.Message())
	case codes.ResourceExhausted:
		return &common.RateLimitError{RetryAfter: retryAfter(trailer)}
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrTimeout, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", common.ErrConnectionFailed, st.Message())
	case codes.Canceled:
		return context.Canceled
	}
	return fmt.Errorf("user stats: %w", err)
}

func retryAfter(md metadata.MD) time.Duration {
	if v := md.Get("retry-after"); len(v) > 0 {
		if secs, err := strconv.ParseInt(v[0], 10, 64); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
