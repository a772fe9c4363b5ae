package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/admission"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const callerKey ctxKey = "caller"

// RetryAfterTrailer names the trailer that carries the retry hint, in
// seconds, on ResourceExhausted responses.
const RetryAfterTrailer = "retry-after"

// caller is what the identify step learned about the request.
type caller struct {
	identity string
	claims   *auth.Claims
	authErr  error
}

// methodClass maps full method names to admission classes. Unlisted
// methods, including the health service, fall back by prefix.
var methodClass = map[string]admission.Class{
	rpcapi.AuthServiceRegister:                 admission.ClassRegister,
	rpcapi.AuthServiceLogin:                    admission.ClassLogin,
	rpcapi.AuthServiceRefresh:                  admission.ClassRefresh,
	rpcapi.AuthServiceLogout:                   admission.ClassAPI,
	rpcapi.AuthServicePing:                     admission.ClassHealth,
	rpcapi.UserStatsServiceGetCurrentUserStats: admission.ClassAPI,
}

var authRequired = map[string]bool{
	rpcapi.AuthServiceLogout:                   true,
	rpcapi.UserStatsServiceGetCurrentUserStats: true,
}

func classOf(fullMethod string) admission.Class {
	if c, ok := methodClass[fullMethod]; ok {
		return c
	}
	if strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/") {
		return admission.ClassHealth
	}
	return admission.ClassAPI
}

// ClaimsFromContext returns the verified access token claims of the caller.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(callerKey).(*caller)
	if !ok || c.claims == nil {
		return nil, false
	}
	return c.claims, true
}

// BearerFromContext returns the raw access token sent by the caller.
func BearerFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", common.ErrMissingToken
	}
	values := md.Get(common.AuthorizationHeaderName)
	if len(values) == 0 || values[0] == "" {
		return "", common.ErrMissingToken
	}
	v := values[0]
	if len(v) < len(common.BearerPrefix) || !strings.EqualFold(v[:len(common.BearerPrefix)], common.BearerPrefix) {
		return "", common.ErrInvalidAuthHeaderFormat
	}
	token := strings.TrimSpace(v[len(common.BearerPrefix):])
	if token == "" {
		return "", common.ErrInvalidAuthHeaderFormat
	}
	return token, nil
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *GRPCServer) observeInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	code := status.Code(err)
	s.metrics.GRPCRequest(info.FullMethod, code.String())
	if err != nil {
		s.logger.Debug(ctx, "gRPC call failed", "method", info.FullMethod, "code", code.String())
	}
	return resp, err
}

// identifyInterceptor verifies a bearer token when one is sent. A verified
// caller is keyed by subject, anyone else by peer address.
func (s *GRPCServer) identifyInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	c := &caller{}

	token, err := BearerFromContext(ctx)
	if err == nil {
		c.claims, err = s.tokens.VerifyAccessToken(ctx, token)
	}
	c.authErr = err

	if c.claims != nil {
		c.identity = "user:" + c.claims.Subject
	} else {
		c.identity = "ip:" + peerHost(ctx)
	}

	ctx = logging.ContextWith(ctx, "identity", c.identity, "method", info.FullMethod)
	return handler(context.WithValue(ctx, callerKey, c), req)
}

// relayed reports whether the call came from this process's own HTTP
// gateway, which has already charged the caller.
func (s *GRPCServer) relayed(ctx context.Context) bool {
	if s.relayKey == "" {
		return false
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	v := md.Get(common.RelayKeyHeaderName)
	return len(v) == 1 && subtle.ConstantTimeCompare([]byte(v[0]), []byte(s.relayKey)) == 1
}

func (s *GRPCServer) admissionInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.admission == nil || s.relayed(ctx) {
		return handler(ctx, req)
	}
	c, _ := ctx.Value(callerKey).(*caller)
	identity := "ip:" + peerHost(ctx)
	if c != nil {
		identity = c.identity
	}

	if _, err := s.admission.Check(ctx, identity, classOf(info.FullMethod)); err != nil {
		var rl *common.RateLimitError
		if errors.As(err, &rl) {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(RetryAfterTrailer, strconv.FormatInt(rl.RetryAfterSeconds(), 10)))
		}
		return nil, s.toStatus(ctx, err)
	}
	return handler(ctx, req)
}

func (s *GRPCServer) requireAuthInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !authRequired[info.FullMethod] {
		return handler(ctx, req)
	}
	c, _ := ctx.Value(callerKey).(*caller)
	if c == nil || c.claims == nil {
		err := common.ErrMissingToken
		if c != nil && c.authErr != nil {
			err = c.authErr
		}
		return nil, s.toStatus(ctx, err)
	}
	return handler(ctx, req)
}
