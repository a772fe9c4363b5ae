package models

import (
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
)

// RefreshToken is the server-side record of an opaque refresh token. Only the
// SHA-256 of the secret is kept.
type RefreshToken struct {
	ID        string
	Subject   string
	TokenHash string
	Roles     []string
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
	Revoked   bool
}

// Usable returns nil when the token may be rotated at now, otherwise the
// reason it may not. Revocation is reported before reuse and expiry.
func (t *RefreshToken) Usable(now time.Time) error {
	switch {
	case t.Revoked:
		return common.ErrRefreshTokenRevoked
	case t.Used:
		return common.ErrRefreshTokenUsed
	case !now.Before(t.ExpiresAt):
		return common.ErrRefreshTokenExpired
	}
	return nil
}
