package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

const (
	AuthServiceName      = "gatekeeper.v1.AuthService"
	UserStatsServiceName = "user_stats.UserStatsService"

	AuthServiceRegister                 = "/gatekeeper.v1.AuthService/Register"
	AuthServiceLogin                    = "/gatekeeper.v1.AuthService/Login"
	AuthServiceRefresh                  = "/gatekeeper.v1.AuthService/Refresh"
	AuthServiceLogout                   = "/gatekeeper.v1.AuthService/Logout"
	AuthServicePing                     = "/gatekeeper.v1.AuthService/Ping"
	UserStatsServiceGetCurrentUserStats = "/user_stats.UserStatsService/GetCurrentUserStats"
)

// AuthServiceServer is implemented by the gatekeeper gRPC server.
type AuthServiceServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	Refresh(context.Context, *RefreshRequest) (*AuthResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
}

// UserStatsServiceServer serves account statistics to bearer-authenticated
// callers. It is wire compatible with any user_stats.UserStatsService.
type UserStatsServiceServer interface {
	GetCurrentUserStats(context.Context, *GetCurrentUserStatsRequest) (*UserStats, error)
}

// unary builds a method descriptor that decodes Req and runs call through
// the server's interceptor chain.
func unary[S any, Req any, Resp any](name, fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", AuthServiceRegister, AuthServiceServer.Register),
		unary("Login", AuthServiceLogin, AuthServiceServer.Login),
		unary("Refresh", AuthServiceRefresh, AuthServiceServer.Refresh),
		unary("Logout", AuthServiceLogout, AuthServiceServer.Logout),
		unary("Ping", AuthServicePing, AuthServiceServer.Ping),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatekeeper/v1/auth.proto",
}

var UserStatsServiceDesc = grpc.ServiceDesc{
	ServiceName: UserStatsServiceName,
	HandlerType: (*UserStatsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetCurrentUserStats", UserStatsServiceGetCurrentUserStats, UserStatsServiceServer.GetCurrentUserStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "user_stats/user_stats.proto",
}

func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

func RegisterUserStatsServiceServer(s grpc.ServiceRegistrar, srv UserStatsServiceServer) {
	s.RegisterService(&UserStatsServiceDesc, srv)
}

// AuthServiceClient calls AuthService over any client connection.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.cc.Invoke(ctx, AuthServiceRegister, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.cc.Invoke(ctx, AuthServiceLogin, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	out := new(AuthResponse)
	if err := c.cc.Invoke(ctx, AuthServiceRefresh, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	out := new(LogoutResponse)
	if err := c.cc.Invoke(ctx, AuthServiceLogout, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	if err := c.cc.Invoke(ctx, AuthServicePing, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// UserStatsServiceClient calls UserStatsService.
type UserStatsServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewUserStatsServiceClient(cc grpc.ClientConnInterface) *UserStatsServiceClient {
	return &UserStatsServiceClient{cc: cc}
}

func (c *UserStatsServiceClient) GetCurrentUserStats(ctx context.Context, in *GetCurrentUserStatsRequest, opts ...grpc.CallOption) (*UserStats, error) {
	out := new(UserStats)
	if err := c.cc.Invoke(ctx, UserStatsServiceGetCurrentUserStats, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
