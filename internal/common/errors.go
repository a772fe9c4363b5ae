// Package common defines the sentinel errors and shared helpers used across
// gatekeeper components. Callers should use errors.Is to match these values;
// transport layers translate them into HTTP and gRPC status codes.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")
	ErrorForbidden    = errors.New("forbidden")

	// Access token errors.
	ErrInvalidToken            = errors.New("invalid token")
	ErrTokenMalformed          = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenSignatureInvalid   = fmt.Errorf("%w: signature invalid", ErrInvalidToken)
	ErrTokenExpired            = errors.New("token expired")
	ErrTokenRevoked            = errors.New("token revoked")
	ErrMissingToken            = errors.New("missing token")
	ErrInvalidAuthHeaderFormat = errors.New("invalid auth header format")

	// Refresh token lifecycle errors.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRefreshTokenUsed    = errors.New("refresh token already used")
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")

	// Admission errors.
	ErrRateLimited      = errors.New("rate limited")
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// Connection pool errors.
	ErrPoolTimeout      = errors.New("connection pool acquire timeout")
	ErrPoolExhausted    = errors.New("connection pool exhausted")
	ErrPoolClosed       = errors.New("connection pool closed")
	ErrConnectionFailed = errors.New("connection failed")

	// Infrastructure errors.
	ErrTransientStorage = errors.New("transient storage error")
	ErrTimeout          = errors.New("timeout")
	ErrFatalConfig      = errors.New("invalid configuration")
)

// RateLimitError is returned when admission is denied. It matches
// ErrRateLimited via errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
