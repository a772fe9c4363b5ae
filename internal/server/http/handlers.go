package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/grpcpool"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/admission"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type UserService interface {
	Register(ctx context.Context, email, password, fullName string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Profile(ctx context.Context, subject string) (*models.User, error)
	UpdateProfile(ctx context.Context, subject, fullName string, prefs json.RawMessage) (*models.User, error)
	Delete(ctx context.Context, subject string) error
}

type TokenService interface {
	VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, error)
	RotateRefreshToken(ctx context.Context, secret string) (*services.TokenPair, error)
	RevokeRefreshSecret(ctx context.Context, secret string) error
	RevokeAccessToken(ctx context.Context, claims *auth.Claims) error
	RevokeSubject(ctx context.Context, subject string) (int64, error)
	RevokeRefreshToken(ctx context.Context, id, owner string) error
}

// StatsClient fetches account statistics from the downstream service on
// behalf of the bearer of accessToken.
type StatsClient interface {
	GetCurrentUserStats(ctx context.Context, accessToken string) (*rpcapi.UserStats, error)
}

type Admitter interface {
	Check(ctx context.Context, identity string, class admission.Class) (admission.Decision, error)
}

// Probe is one readiness dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// PoolStats reports the downstream connection pool for readiness.
type PoolStats interface {
	Metrics() grpcpool.Metrics
}

type handlers struct {
	users     UserService
	tokens    TokenService
	stats     StatsClient
	admission Admitter
	probes    []Probe
	pool      PoolStats
	metrics   *metrics.Metrics
	logger    logging.Logger
}

func (h *handlers) routes(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(h.recovery(), h.observe(), h.limitBody(), h.identify())

	health := h.admit(admission.ClassHealth)
	r.GET("/health/live", health, h.live)
	r.GET("/health/ready", health, h.ready)
	if gatherer != nil {
		r.GET("/metrics", health, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := h.admit(admission.ClassAPI)
	authed := h.requireAuth()

	v1 := r.Group("/api/v1")
	a := v1.Group("/auth")
	a.POST("/register", h.admit(admission.ClassRegister), h.register)
	a.POST("/login", h.admit(admission.ClassLogin), h.login)
	a.POST("/refresh", h.admit(admission.ClassRefresh), h.refresh)
	a.POST("/logout", api, authed, h.logout)
	a.POST("/revoke", h.admit(admission.ClassAdmin), authed, h.revoke)

	me := v1.Group("/users/me", api, authed)
	me.GET("", h.me)
	me.PUT("", h.updateMe)
	me.DELETE("", h.deleteMe)
	me.GET("/stats", h.meStats)

	r.NoRoute(func(c *gin.Context) {
		h.abortWithError(c, common.ErrorNotFound)
	})
	return r
}

// bindJSON decodes an application/json body into dst and runs its binding
// rules.
func bindJSON(c *gin.Context, dst any) error {
	if c.ContentType() != binding.MIMEJSON {
		return errContentType
	}
	if err := binding.JSON.Bind(c.Request, dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
			errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &maxErr):
			return fmt.Errorf("%w: %v", errJSONParse, err)
		}
		return fmt.Errorf("%w: request validation failed", common.ErrorValidation)
	}
	return nil
}

// bindOptionalJSON is bindJSON for endpoints whose body may be absent. An
// empty body leaves dst untouched whatever its framing or content type.
func bindOptionalJSON(c *gin.Context, dst any) error {
	body := c.Request.Body
	if body == nil || body == http.NoBody {
		return nil
	}
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return nil
	}
	c.Request.Body = struct {
		io.Reader
		io.Closer
	}{br, body}
	return bindJSON(c, dst)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	Subject string `json:"subject"`
	TokenID string `json:"token_id"`
}

type updateProfileRequest struct {
	FullName    string          `json:"full_name" binding:"required"`
	Preferences json.RawMessage `json:"preferences"`
}

type userView struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	FullName    string          `json:"full_name"`
	Roles       []string        `json:"roles"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LastLoginAt *time.Time      `json:"last_login_at,omitempty"`
}

type tokenResponse struct {
	User         *userView `json:"user,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`

	RefreshTokenID string `json:"refresh_token_id,omitempty"`
}

func toUserView(u *models.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Roles:       u.Roles,
		Preferences: u.Preferences,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func toTokenResponse(u *models.User, p *services.TokenPair) tokenResponse {
	return tokenResponse{
		User:         toUserView(u),
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,

		RefreshTokenID: p.RefreshTokenID,
	}
}

func (h *handlers) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready probes every dependency. Failures are logged; the body only names
// which dependency failed.
func (h *handlers) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			h.logger.Warn(ctx, "readiness probe failed", "probe", p.Name, "error", err)
			checks[p.Name] = "error"
			status = "degraded"
			continue
		}
		checks[p.Name] = "ok"
	}

	body := gin.H{"status": status, "checks": checks}
	if h.pool != nil {
		m := h.pool.Metrics()
		body["pool"] = gin.H{
			"total":     m.Total,
			"active":    m.Active,
			"available": m.Available,
			"healthy":   m.Healthy,
			"max":       m.Max,
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

func (h *handlers) register(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	session, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTokenResponse(session.User, session.Tokens))
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	session, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(session.User, session.Tokens))
}

func (h *handlers) refresh(c *gin.Context) {
	var req refreshRequest
	if err := bindJSON(c, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	pair, err := h.tokens.RotateRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			err = fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
		}
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(nil, pair))
}

// logout revokes the caller's access token and, when given, its refresh
// token. The body is optional.
func (h *handlers) logout(c *gin.Context) {
	var req logoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	if req.RefreshToken != "" {
		if err := h.tokens.RevokeRefreshSecret(ctx, req.RefreshToken); err != nil && !errors.Is(err, common.ErrorNotFound) {
			h.abortWithError(c, err)
			return
		}
	}
	if err := h.tokens.RevokeAccessToken(ctx, claimsFrom(c)); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// revoke invalidates a single refresh token when token_id is given and every
// refresh token of a subject otherwise. Callers may revoke their own
// sessions; other subjects need the admin role.
func (h *handlers) revoke(c *gin.Context) {
	var req revokeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	claims := claimsFrom(c)
	if req.TokenID != "" {
		h.revokeOne(c, claims, req.TokenID)
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = claims.Subject
	}
	if subject != claims.Subject && !models.HasRole(claims.Roles, models.RoleAdmin) {
		h.abortWithError(c, common.ErrorForbidden)
		return
	}

	n, err := h.tokens.RevokeSubject(c.Request.Context(), subject)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	h.logger.Info(c.Request.Context(), "refresh tokens revoked", "subject", subject, "by", claims.Subject, "count", n)
	c.JSON(http.StatusOK, gin.H{"subject": subject, "revoked": n})
}

// revokeOne revokes token id. Non-admins only reach their own tokens; an id
// owned by someone else is indistinguishable from an unknown one.
func (h *handlers) revokeOne(c *gin.Context, claims *auth.Claims, id string) {
	owner := claims.Subject
	if models.HasRole(claims.Roles, models.RoleAdmin) {
		owner = ""
	}
	if err := h.tokens.RevokeRefreshToken(c.Request.Context(), id, owner); err != nil {
		h.abortWithError(c, err)
		return
	}
	h.logger.Info(c.Request.Context(), "refresh token revoked", "token_id", id, "by", claims.Subject)
	c.JSON(http.StatusOK, gin.H{"token_id": id, "revoked": 1})
}

func (h *handlers) me(c *gin.Context) {
	u, err := h.users.Profile(c.Request.Context(), claimsFrom(c).Subject)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserView(u))
}

func (h *handlers) updateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := bindJSON(c, &req); err != nil {
		h.abortWithError(c, err)
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), claimsFrom(c).Subject, req.FullName, req.Preferences)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserView(u))
}

// deleteMe removes the account, its refresh tokens and the access token used
// for the call.
func (h *handlers) deleteMe(c *gin.Context) {
	ctx := c.Request.Context()
	claims := claimsFrom(c)

	if err := h.users.Delete(ctx, claims.Subject); err != nil {
		h.abortWithError(c, err)
		return
	}
	if err := h.tokens.RevokeAccessToken(ctx, claims); err != nil {
		h.logger.Warn(ctx, "access token not denylisted after account deletion", "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) meStats(c *gin.Context) {
	if h.stats == nil {
		h.abortWithError(c, common.ErrConnectionFailed)
		return
	}
	st, err := h.stats.GetCurrentUserStats(c.Request.Context(), c.GetString(ctxToken))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
