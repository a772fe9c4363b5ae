package grpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/admission"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

// UserService is the account surface used by the handlers.
type UserService interface {
	Register(ctx context.Context, email, password, fullName string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Stats(ctx context.Context, subject string) (*models.UserStats, error)
}

// TokenService verifies, rotates and revokes tokens.
type TokenService interface {
	VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, error)
	RotateRefreshToken(ctx context.Context, secret string) (*services.TokenPair, error)
	RevokeRefreshSecret(ctx context.Context, secret string) error
	RevokeAccessToken(ctx context.Context, claims *auth.Claims) error
}

// Admitter decides whether identity may call an endpoint of class.
type Admitter interface {
	Check(ctx context.Context, identity string, class admission.Class) (admission.Decision, error)
}

type authHandler struct{ s *GRPCServer }

type statsHandler struct{ s *GRPCServer }

func toUser(u *models.User) *rpcapi.User {
	if u == nil {
		return nil
	}
	return &rpcapi.User{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Roles:       u.Roles,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func toAuthResponse(u *models.User, p *services.TokenPair) *rpcapi.AuthResponse {
	return &rpcapi.AuthResponse{
		User:         toUser(u),
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,

		RefreshTokenID: p.RefreshTokenID,
	}
}

func (h *authHandler) Register(ctx context.Context, req *rpcapi.RegisterRequest) (*rpcapi.AuthResponse, error) {
	session, err := h.s.users.Register(ctx, req.Email, req.Password, req.FullName)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	h.s.logger.Info(ctx, "Registered", "user_id", session.User.ID)
	return toAuthResponse(session.User, session.Tokens), nil
}

func (h *authHandler) Login(ctx context.Context, req *rpcapi.LoginRequest) (*rpcapi.AuthResponse, error) {
	session, err := h.s.users.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return toAuthResponse(session.User, session.Tokens), nil
}

// Refresh rotates a refresh token. An unknown token is reported as
// Unauthenticated, the same as a used or expired one.
func (h *authHandler) Refresh(ctx context.Context, req *rpcapi.RefreshRequest) (*rpcapi.AuthResponse, error) {
	pair, err := h.s.tokens.RotateRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			err = fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
		}
		return nil, h.s.toStatus(ctx, err)
	}
	return toAuthResponse(nil, pair), nil
}

func (h *authHandler) Logout(ctx context.Context, req *rpcapi.LogoutRequest) (*rpcapi.LogoutResponse, error) {
	claims, _ := ClaimsFromContext(ctx)

	if req.RefreshToken != "" {
		if err := h.s.tokens.RevokeRefreshSecret(ctx, req.RefreshToken); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return nil, h.s.toStatus(ctx, err)
		}
	}
	if err := h.s.tokens.RevokeAccessToken(ctx, claims); err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return &rpcapi.LogoutResponse{}, nil
}

func (h *authHandler) Ping(context.Context, *rpcapi.PingRequest) (*rpcapi.PingResponse, error) {
	return &rpcapi.PingResponse{Status: "OK"}, nil
}

func (h *statsHandler) GetCurrentUserStats(ctx context.Context, _ *rpcapi.GetCurrentUserStatsRequest) (*rpcapi.UserStats, error) {
	claims, _ := ClaimsFromContext(ctx)

	st, err := h.s.users.Stats(ctx, claims.Subject)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return &rpcapi.UserStats{
		UserID:            st.UserID,
		Email:             st.Email,
		FullName:          st.FullName,
		Preferences:       st.Preferences,
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
		LastLoginAt:       st.LastLoginAt,
		RefreshTokenCount: st.RefreshTokenCount,
	}, nil
}
