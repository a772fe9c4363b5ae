package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/gin-gonic/gin"
)

// Error kinds reported in the "error" field.
const (
	KindValidation         = "VALIDATION_ERROR"
	KindJSONParse          = "JSON_PARSE_ERROR"
	KindInvalidContentType = "INVALID_CONTENT_TYPE"
	KindUnauthorized       = "UNAUTHORIZED"
	KindForbidden          = "FORBIDDEN"
	KindNotFound           = "NOT_FOUND"
	KindConflict           = "CONFLICT"
	KindRateLimited        = "RATE_LIMITED"
	KindUnavailable        = "SERVICE_UNAVAILABLE"
	KindTimeout            = "TIMEOUT"
	KindInternal           = "INTERNAL_ERROR"
)

var (
	errContentType = errors.New("expected application/json")
	errJSONParse   = errors.New("invalid JSON format")
)

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// abortWithError writes the error body for err and stops the handler chain.
// Unrecognised errors are logged and reported without detail.
func (h *handlers) abortWithError(c *gin.Context, err error) {
	code, body := h.describe(c.Request.Context(), err)
	if body.RetryAfter > 0 {
		c.Header(common.RetryAfterHeaderName, strconv.FormatInt(body.RetryAfter, 10))
	}
	c.AbortWithStatusJSON(code, body)
}

func (h *handlers) describe(ctx context.Context, err error) (int, errorResponse) {
	var rl *common.RateLimitError
	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, errorResponse{Error: KindRateLimited, Message: "rate limit exceeded", RetryAfter: rl.RetryAfterSeconds()}

	case errors.Is(err, errContentType):
		return http.StatusBadRequest, errorResponse{Error: KindInvalidContentType, Message: "invalid content type"}
	case errors.Is(err, errJSONParse):
		return http.StatusBadRequest, errorResponse{Error: KindJSONParse, Message: err.Error()}
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, errorResponse{Error: KindValidation, Message: err.Error()}

	case errors.Is(err, common.ErrMissingToken):
		return http.StatusUnauthorized, errorResponse{Error: KindUnauthorized, Message: "missing token"}
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, errorResponse{Error: KindUnauthorized, Message: "token expired"}
	case errors.Is(err, common.ErrTokenRevoked), errors.Is(err, common.ErrRefreshTokenRevoked):
		return http.StatusUnauthorized, errorResponse{Error: KindUnauthorized, Message: "token revoked"}
	case errors.Is(err, common.ErrRefreshTokenUsed):
		return http.StatusUnauthorized, errorResponse{Error: KindUnauthorized, Message: "refresh token already used"}
	case errors.Is(err, common.ErrInvalidAuthHeaderFormat), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, errorResponse{Error: KindUnauthorized, Message: "invalid token"}
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: KindUnauthorized, Message: "invalid credentials"}

	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, errorResponse{Error: KindForbidden, Message: "forbidden"}
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, errorResponse{Error: KindNotFound, Message: "not found"}
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, errorResponse{Error: KindConflict, Message: "already exists"}

	case errors.Is(err, common.ErrTimeout),
		errors.Is(err, common.ErrPoolTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: KindTimeout, Message: "request timed out"}

	case errors.Is(err, common.ErrStoreUnavailable),
		errors.Is(err, common.ErrTransientStorage),
		errors.Is(err, common.ErrPoolClosed),
		errors.Is(err, common.ErrPoolExhausted),
		errors.Is(err, common.ErrConnectionFailed):
		return http.StatusServiceUnavailable, errorResponse{Error: KindUnavailable, Message: "service unavailable"}
	}

	h.logger.Error(ctx, "internal error", "error", err)
	return http.StatusInternalServerError, errorResponse{Error: KindInternal, Message: "internal error"}
}
