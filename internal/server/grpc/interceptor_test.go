package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/admission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		method string
		want   admission.Class
	}{
		{rpcapi.AuthServiceRegister, admission.ClassRegister},
		{rpcapi.AuthServiceLogin, admission.ClassLogin},
		{rpcapi.AuthServiceRefresh, admission.ClassRefresh},
		{rpcapi.AuthServiceLogout, admission.ClassAPI},
		{rpcapi.AuthServicePing, admission.ClassHealth},
		{rpcapi.UserStatsServiceGetCurrentUserStats, admission.ClassAPI},
		{"/grpc.health.v1.Health/Check", admission.ClassHealth},
		{"/other.Service/Method", admission.ClassAPI},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, classOf(tt.method))
		})
	}
}

func TestBearerFromContext(t *testing.T) {
	in := func(v ...string) context.Context {
		md := metadata.MD{}
		if len(v) > 0 {
			md.Set(common.AuthorizationHeaderName, v...)
		}
		return metadata.NewIncomingContext(context.Background(), md)
	}

	tests := []struct {
		name    string
		ctx     context.Context
		want    string
		wantErr error
	}{
		{"no metadata", context.Background(), "", common.ErrMissingToken},
		{"no header", in(), "", common.ErrMissingToken},
		{"bearer", in("Bearer abc.def.ghi"), "abc.def.ghi", nil},
		{"lowercase scheme", in("bearer abc"), "abc", nil},
		{"basic scheme", in("Basic dXNlcg=="), "", common.ErrInvalidAuthHeaderFormat},
		{"empty token", in("Bearer   "), "", common.ErrInvalidAuthHeaderFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerFromContext(tt.ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdmission_RejectsWithRetryAfterTrailer(t *testing.T) {
	policies := admission.DefaultPolicies()
	policies[admission.ClassLogin] = admission.Policy{Limit: 2, Window: time.Minute}
	h := newHarness(t, harnessOpts{policies: policies})
	req := &rpcapi.LoginRequest{Email: "nobody@example.com", Password: "Str0ngPassw0rd"}

	for i := 0; i < 2; i++ {
		_, err := h.auth.Login(context.Background(), req)
		require.Equal(t, codes.Unauthenticated, status.Code(err))
	}

	var trailer metadata.MD
	_, err := h.auth.Login(context.Background(), req, grpc.Trailer(&trailer))
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, []string{"60"}, trailer.Get(RetryAfterTrailer))

	// other classes have their own windows
	_, err = h.auth.Ping(context.Background(), &rpcapi.PingRequest{})
	assert.NoError(t, err)
}

func TestAdmission_AuthenticatedCallersAreKeyedBySubject(t *testing.T) {
	policies := admission.DefaultPolicies()
	policies[admission.ClassAPI] = admission.Policy{Limit: 1, Window: time.Minute, FailOpen: true}
	h := newHarness(t, harnessOpts{policies: policies})

	ann := h.register(t, "ann@example.com")
	bob := h.register(t, "bob@example.com")
	req := &rpcapi.GetCurrentUserStatsRequest{}

	_, err := h.stats.GetCurrentUserStats(bearer(ann.AccessToken), req)
	require.NoError(t, err)
	_, err = h.stats.GetCurrentUserStats(bearer(bob.AccessToken), req)
	require.NoError(t, err)

	_, err = h.stats.GetCurrentUserStats(bearer(ann.AccessToken), req)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestAdmission_RelayedCallsAreNotCharged(t *testing.T) {
	policies := admission.DefaultPolicies()
	policies[admission.ClassAPI] = admission.Policy{Limit: 1, Window: time.Minute}
	h := newHarness(t, harnessOpts{policies: policies, relayKey: "relay-secret"})

	ann := h.register(t, "ann@example.com")
	req := &rpcapi.GetCurrentUserStatsRequest{}
	relayed := func(key string) context.Context {
		return metadata.AppendToOutgoingContext(bearer(ann.AccessToken), common.RelayKeyHeaderName, key)
	}

	for i := 0; i < 3; i++ {
		_, err := h.stats.GetCurrentUserStats(relayed("relay-secret"), req)
		require.NoError(t, err)
	}

	// a wrong key is charged like any other call
	_, err := h.stats.GetCurrentUserStats(relayed("guess"), req)
	require.NoError(t, err)
	_, err = h.stats.GetCurrentUserStats(relayed("guess"), req)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// relaying skips admission only, not authentication
	_, err = h.stats.GetCurrentUserStats(metadata.AppendToOutgoingContext(context.Background(), common.RelayKeyHeaderName, "relay-secret"), req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

type downStore struct{}

func (downStore) CheckAndIncrement(context.Context, string, int, time.Duration) (admission.Decision, error) {
	return admission.Decision{}, common.ErrStoreUnavailable
}

func TestAdmission_StoreDown(t *testing.T) {
	s := &GRPCServer{
		logger:    logging.Nop(),
		admission: admission.NewController(downStore{}, admission.DefaultPolicies(), 5*time.Second, logging.Nop(), nil),
	}
	ok := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	// health fails open
	resp, err := s.admissionInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: rpcapi.AuthServicePing}, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	// login fails closed
	_, err = s.admissionInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: rpcapi.AuthServiceLogin}, ok)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestToStatus(t *testing.T) {
	s := &GRPCServer{logger: logging.Nop()}
	ctx := context.Background()

	tests := []struct {
		err  error
		want codes.Code
	}{
		{&common.RateLimitError{RetryAfter: time.Second}, codes.ResourceExhausted},
		{common.ErrTokenExpired, codes.Unauthenticated},
		{common.ErrTokenSignatureInvalid, codes.Unauthenticated},
		{common.ErrRefreshTokenUsed, codes.Unauthenticated},
		{common.ErrorUnauthorized, codes.Unauthenticated},
		{common.ErrorValidation, codes.InvalidArgument},
		{common.ErrorAlreadyExists, codes.AlreadyExists},
		{common.ErrorNotFound, codes.NotFound},
		{common.ErrTimeout, codes.DeadlineExceeded},
		{common.ErrPoolTimeout, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{common.ErrStoreUnavailable, codes.Unavailable},
		{common.ErrTransientStorage, codes.Unavailable},
		{common.ErrConnectionFailed, codes.Unavailable},
		{status.Error(codes.PermissionDenied, "nope"), codes.PermissionDenied},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(s.toStatus(ctx, tt.err)))
		})
	}

	assert.Equal(t, "internal error", status.Convert(s.toStatus(ctx, errors.New("pq: secret detail"))).Message())
	assert.NoError(t, s.toStatus(ctx, nil))
}
