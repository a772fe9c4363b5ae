// Package auth holds the cryptographic primitives of the token authority:
// HS256 access tokens, argon2id password hashes, the bounded hashing pool
// and the optional jti denylist.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the registered claims plus the subject's roles.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// TokenIssuer signs and verifies access tokens with one HMAC key.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  timex.Clock
}

func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration, clock timex.Clock) *TokenIssuer {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, clock: clock}
}

// TTL is the lifetime of issued access tokens.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for subject valid from now until now+TTL.
func (i *TokenIssuer) Issue(subject string, roles []string) (string, *Claims, error) {
	now := i.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm, issuer and expiry. A token is valid
// strictly before its exp. Failures map onto common.ErrTokenMalformed,
// common.ErrTokenSignatureInvalid and common.ErrTokenExpired; anything else
// is common.ErrInvalidToken.
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !parsed.Valid {
		return nil, common.ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, common.ErrTokenMalformed
	}
	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return common.ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return common.ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return common.ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
}

// ExpiresAtTime returns the exp claim, or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
