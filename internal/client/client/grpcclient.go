package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// publicMethods never carry a bearer and are never retried after a refresh.
var publicMethods = map[string]bool{
	rpcapi.AuthServiceRegister: true,
	rpcapi.AuthServiceLogin:    true,
	rpcapi.AuthServiceRefresh:  true,
	rpcapi.AuthServicePing:     true,
}

type GRPCClient struct {
	endpointURL string
	timeout     time.Duration
	conn        *grpc.ClientConn
	auth        *rpcapi.AuthServiceClient
	stats       *rpcapi.UserStatsServiceClient

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	user         *rpcapi.User
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) tokens() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.refreshToken
}

func (s *GRPCClient) setSession(resp *rpcapi.AuthResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	if resp.User != nil {
		s.user = resp.User
	}
}

func (s *GRPCClient) clearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken, s.refreshToken, s.user = "", "", nil
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	if publicMethods[method] {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	access, refresh := s.tokens()
	if access == "" {
		return ErrNotLoggedIn
	}

	err := invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if refresh == "" {
		return err
	}

	resp, rerr := s.auth.Refresh(ctx, &rpcapi.RefreshRequest{RefreshToken: refresh})
	if rerr != nil {
		return rerr
	}
	s.setSession(resp)

	return invoker(withAccessToken(ctx, resp.AccessToken), method, req, reply, cc, opts...)
}

// NewGRPCClient creates a client for endpointURL. The connection is lazy;
// nothing is dialed until the first call. timeout bounds every call and may
// be zero.
func NewGRPCClient(endpointURL string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: timeout}
	if err := c.initGRPCClient(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) initGRPCClient(extra ...grpc.DialOption) error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, extra...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.auth = rpcapi.NewAuthServiceClient(conn)
	s.stats = rpcapi.NewUserStatsServiceClient(conn)
	return nil
}

func (s *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *GRPCClient) Register(ctx context.Context, email string, password []byte, fullName string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := &rpcapi.RegisterRequest{Email: email, Password: string(password), FullName: fullName}

	resp, err := s.auth.Register(ctx, req)
	if err != nil {
		return s.mapError(err)
	}

	s.setSession(resp)
	return nil
}

func (s *GRPCClient) Login(ctx context.Context, email string, password []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.auth.Login(ctx, &rpcapi.LoginRequest{Email: email, Password: string(password)})
	if err != nil {
		return s.mapError(err)
	}

	s.setSession(resp)
	return nil
}

// Logout revokes the session on the server and forgets it locally. The local
// session is dropped even when the server cannot be reached.
func (s *GRPCClient) Logout(ctx context.Context) error {
	_, refresh := s.tokens()
	if refresh == "" {
		return ErrNotLoggedIn
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.auth.Logout(ctx, &rpcapi.LogoutRequest{RefreshToken: refresh})
	s.clearSession()
	return s.mapError(err)
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.auth.Ping(ctx, &rpcapi.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}

	if resp.Status != "OK" {
		return ErrUnavailable
	}

	return nil
}

func (s *GRPCClient) Stats(ctx context.Context) (*rpcapi.UserStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.stats.GetCurrentUserStats(ctx, &rpcapi.GetCurrentUserStatsRequest{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

// User returns the account of the current session, or nil.
func (s *GRPCClient) User() *rpcapi.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *GRPCClient) IsLoggedIn() bool {
	access, _ := s.tokens()
	return access != ""
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil || err == ErrNotLoggedIn {
		return err
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.ResourceExhausted:
		return common.ErrRateLimited
	case codes.AlreadyExists:
		return common.ErrorAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrorValidation, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
