// Package users stores registered credentials.
package users

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// Repository persists users. Lookups that find nothing return
// common.ErrorNotFound; a duplicate email returns common.ErrorAlreadyExists.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, fullName string, preferences json.RawMessage, at time.Time) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id string, hash string, at time.Time) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error

	// Stats summarizes the account, counting refresh tokens still usable at now.
	Stats(ctx context.Context, id string, now time.Time) (*models.UserStats, error)
}
