package users

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int64

func (f fixedCounter) CountActive(context.Context, string, time.Time) (int64, error) {
	return int64(f), nil
}

func TestMemoryRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(fixedCounter(2))

	u, err := repo.Create(ctx, &models.User{Email: "Bob@Example.com", FullName: "Bob", Roles: []string{"user"}})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	_, err = repo.Create(ctx, &models.User{Email: "bob@example.com"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists, "email is case-insensitive")

	got, err := repo.GetByEmail(ctx, "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got.Roles[0] = "admin"
	again, _ := repo.GetByID(ctx, u.ID)
	assert.Equal(t, []string{"user"}, again.Roles, "returned users are copies")

	at := time.Now().UTC()
	require.NoError(t, repo.TouchLastLogin(ctx, u.ID, at))
	require.NoError(t, repo.UpdatePasswordHash(ctx, u.ID, "h2", at))

	upd, err := repo.UpdateProfile(ctx, u.ID, "Robert", json.RawMessage(`{"a":1}`), at)
	require.NoError(t, err)
	assert.Equal(t, "Robert", upd.FullName)
	assert.Equal(t, "h2", upd.PasswordHash)

	stats, err := repo.Stats(ctx, u.ID, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.RefreshTokenCount)
	require.NotNil(t, stats.LastLoginAt)

	require.NoError(t, repo.Delete(ctx, u.ID))
	_, err = repo.GetByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, u.ID), common.ErrorNotFound)
}
