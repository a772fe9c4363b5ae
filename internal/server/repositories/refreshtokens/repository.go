// Package refreshtokens stores refresh token records by the SHA-256 of their
// secret.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// Repository persists refresh tokens. Implementations must make Consume
// atomic: of any number of concurrent calls for the same hash, at most one
// succeeds.
type Repository interface {
	// Create stores a new token record.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHash returns the record for hash or common.ErrorNotFound.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// Consume marks a usable token as used and returns it. A token that is
	// missing, expired, used or revoked yields the matching common error
	// (see models.RefreshToken.Usable).
	Consume(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error)

	// Revoke marks one token revoked by record id.
	Revoke(ctx context.Context, id string) error

	// RevokeOwned is Revoke limited to tokens of subject. An id held by
	// another subject reports common.ErrorNotFound.
	RevokeOwned(ctx context.Context, id, subject string) error

	// RevokeByHash marks one token revoked by secret hash.
	RevokeByHash(ctx context.Context, hash string) error

	// RevokeSubject revokes every token of subject and reports how many
	// changed state.
	RevokeSubject(ctx context.Context, subject string) (int64, error)

	// CountActive counts tokens of subject still usable at now.
	CountActive(ctx context.Context, subject string, now time.Time) (int64, error)

	// DeleteExpired drops tokens that expired before the given instant.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
