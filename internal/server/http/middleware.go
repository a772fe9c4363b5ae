package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/admission"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const (
	ctxClaims   = "gatekeeper.claims"
	ctxToken    = "gatekeeper.token"
	ctxAuthErr  = "gatekeeper.auth_err"
	ctxIdentity = "gatekeeper.identity"

	maxBodyBytes = 1 << 20
)

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	v := r.Header.Get(common.AuthorizationHeaderName)
	if v == "" {
		return "", common.ErrMissingToken
	}
	if len(v) < len(common.BearerPrefix) || !strings.EqualFold(v[:len(common.BearerPrefix)], common.BearerPrefix) {
		return "", common.ErrInvalidAuthHeaderFormat
	}
	token := strings.TrimSpace(v[len(common.BearerPrefix):])
	if token == "" {
		return "", common.ErrInvalidAuthHeaderFormat
	}
	return token, nil
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func (h *handlers) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error(c.Request.Context(), "panic recovered",
					"error", fmt.Sprint(r), "method", c.Request.Method, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: KindInternal, Message: "internal error"})
			}
		}()
		c.Next()
	}
}

// observe logs each request and records it in the HTTP metrics.
func (h *handlers) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		h.metrics.HTTPRequest(c.Request.Method, route, c.Writer.Status(), elapsed)
		h.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method, "route", route, "status", c.Writer.Status(), "duration", elapsed)
	}
}

func (h *handlers) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

// identify verifies a bearer token when one is sent. Verified callers are
// keyed by subject, everyone else by client address.
func (h *handlers) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.Request)
		if err == nil {
			var claims *auth.Claims
			claims, err = h.tokens.VerifyAccessToken(c.Request.Context(), token)
			if err == nil {
				c.Set(ctxClaims, claims)
				c.Set(ctxToken, token)
				setIdentity(c, "user:"+claims.Subject)
				c.Next()
				return
			}
		}
		c.Set(ctxAuthErr, err)
		setIdentity(c, "ip:"+c.ClientIP())
		c.Next()
	}
}

// setIdentity records the admission identity and tags request-scoped log
// records with it.
func setIdentity(c *gin.Context, identity string) {
	c.Set(ctxIdentity, identity)
	c.Request = c.Request.WithContext(logging.ContextWith(c.Request.Context(), "identity", identity))
}

// admit charges the caller against class before the handler runs.
func (h *handlers) admit(class admission.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.admission == nil {
			c.Next()
			return
		}
		identity := c.GetString(ctxIdentity)
		if identity == "" {
			identity = "ip:" + c.ClientIP()
		}
		if _, err := h.admission.Check(c.Request.Context(), identity, class); err != nil {
			h.abortWithError(c, err)
			return
		}
		c.Next()
	}
}

// requireAuth rejects callers without a verified access token.
func (h *handlers) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claimsFrom(c) != nil {
			c.Next()
			return
		}
		err := common.ErrMissingToken
		if v, ok := c.Get(ctxAuthErr); ok {
			if authErr, ok := v.(error); ok && authErr != nil {
				err = authErr
			}
		}
		h.abortWithError(c, err)
	}
}
