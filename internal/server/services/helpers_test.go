package services

import (
	"context"
	"database/sql/driver"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func fastParams() auth.Argon2Params {
	return auth.Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

type authorityOpts struct {
	repos    repomanager.RepositoryManager
	clock    *timex.ManualClock
	denylist auth.Denylist
	params   auth.Argon2Params
}

func newAuthority(t *testing.T, o authorityOpts) *TokenAuthority {
	t.Helper()
	if o.repos == nil {
		o.repos = repomanager.NewMemoryRepositoryManager()
	}
	if o.clock == nil {
		o.clock = timex.NewManualClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	}
	if o.params.MemoryKiB == 0 {
		o.params = fastParams()
	}
	return NewTokenAuthority(TokenAuthorityDeps{
		Repos:      o.repos,
		Issuer:     auth.NewTokenIssuer(testSecret, "gatekeeper", time.Hour, o.clock),
		Hashing:    auth.NewHashingPool(auth.NewArgon2Hasher(o.params), 2),
		Denylist:   o.denylist,
		RefreshTTL: 24 * time.Hour,
		Retry:      dbx.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Clock:      o.clock,
		Logger:     logging.Nop(),
	})
}

// flakyRepos fails the first n refresh token creations with a dropped
// connection.
type flakyRepos struct {
	*repomanager.MemoryRepositoryManager
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakyRepos) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &flakyTokens{Repository: f.MemoryRepositoryManager.RefreshTokens(db), parent: f}
}

type flakyTokens struct {
	refreshtokens.Repository
	parent *flakyRepos
}

func (f *flakyTokens) Create(ctx context.Context, t *models.RefreshToken) error {
	f.parent.attempts.Add(1)
	if f.parent.failures.Add(-1) >= 0 {
		return driver.ErrBadConn
	}
	return f.Repository.Create(ctx, t)
}

type brokenDenylist struct{}

func (brokenDenylist) Revoke(context.Context, string, time.Time) error { return driver.ErrBadConn }

func (brokenDenylist) IsRevoked(context.Context, string) (bool, error) {
	return false, driver.ErrBadConn
}
