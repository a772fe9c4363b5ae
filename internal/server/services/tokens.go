// Package services contains server-side business logic. TokenAuthority owns
// the token lifecycle; UserService builds registration, login and account
// queries on top of it.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshTokenID   string
	TokenType        string
	ExpiresIn        int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenAuthorityDeps are the collaborators of a TokenAuthority. Denylist,
// Clock, Logger and Metrics are optional.
type TokenAuthorityDeps struct {
	Repos      repomanager.RepositoryManager
	Issuer     *auth.TokenIssuer
	Hashing    *auth.HashingPool
	Denylist   auth.Denylist
	RefreshTTL time.Duration
	Retry      dbx.RetryPolicy
	Clock      timex.Clock
	Logger     logging.Logger
	Metrics    *metrics.Metrics
}

type TokenAuthority struct {
	repos      repomanager.RepositoryManager
	issuer     *auth.TokenIssuer
	hashing    *auth.HashingPool
	denylist   auth.Denylist
	refreshTTL time.Duration
	retry      dbx.RetryPolicy
	clock      timex.Clock
	logger     logging.Logger
	metrics    *metrics.Metrics
}

func NewTokenAuthority(d TokenAuthorityDeps) *TokenAuthority {
	if d.Clock == nil {
		d.Clock = timex.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Retry.Attempts == 0 {
		d.Retry = dbx.DefaultRetryPolicy
	}
	return &TokenAuthority{
		repos:      d.Repos,
		issuer:     d.Issuer,
		hashing:    d.Hashing,
		denylist:   d.Denylist,
		refreshTTL: d.RefreshTTL,
		retry:      d.Retry,
		clock:      d.Clock,
		logger:     d.Logger.With("module", "tokens"),
		metrics:    d.Metrics,
	}
}

func (a *TokenAuthority) HashPassword(ctx context.Context, plain string) (string, error) {
	return a.hashing.HashPassword(ctx, plain)
}

func (a *TokenAuthority) VerifyPassword(ctx context.Context, plain, encoded string) (bool, error) {
	return a.hashing.VerifyPassword(ctx, plain, encoded)
}

func (a *TokenAuthority) NeedsRehash(encoded string) bool {
	return a.hashing.NeedsRehash(encoded)
}

// IssueTokenPair mints an access token and persists a fresh refresh token
// for subject.
func (a *TokenAuthority) IssueTokenPair(ctx context.Context, subject string, roles []string) (*TokenPair, error) {
	var pair *TokenPair
	err := dbx.Retry(ctx, a.retry, func(ctx context.Context) error {
		var err error
		pair, err = a.issue(ctx, a.repos.RefreshTokens(a.repos.DB()), subject, roles)
		return err
	})
	a.record("issue", err)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (a *TokenAuthority) issue(ctx context.Context, repo refreshtokens.Repository, subject string, roles []string) (*TokenPair, error) {
	access, claims, err := a.issuer.Issue(subject, roles)
	if err != nil {
		return nil, err
	}

	secret, err := common.MakeRandHexString(common.RefreshTokenBytes)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	rt := &models.RefreshToken{
		Subject:   subject,
		TokenHash: common.HashToken(secret),
		Roles:     roles,
		ExpiresAt: now.Add(a.refreshTTL),
		CreatedAt: now,
	}
	if err := repo.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		RefreshTokenID:   rt.ID,
		TokenType:        "Bearer",
		ExpiresIn:        int64(a.issuer.TTL() / time.Second),
		AccessExpiresAt:  claims.ExpiresAtTime(),
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

// VerifyAccessToken checks signature and expiry and, when a denylist is
// configured, that the token was not revoked. A denylist that cannot be
// reached rejects the token.
func (a *TokenAuthority) VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxErr(err)
	}

	claims, err := a.issuer.Parse(token)
	if err != nil {
		a.record("verify", err)
		return nil, err
	}

	if a.denylist != nil {
		revoked, err := a.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctxErr(ctx.Err())
			}
			a.logger.Warn(ctx, "denylist lookup failed", "error", err)
			err = fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
			a.record("verify", err)
			return nil, err
		}
		if revoked {
			a.record("verify", common.ErrTokenRevoked)
			return nil, common.ErrTokenRevoked
		}
	}

	a.record("verify", nil)
	return claims, nil
}

// RotateRefreshToken consumes secret and issues a replacement pair in one
// transaction. Of any number of concurrent rotations of the same secret
// exactly one succeeds; the rest get common.ErrRefreshTokenUsed.
func (a *TokenAuthority) RotateRefreshToken(ctx context.Context, secret string) (*TokenPair, error) {
	if secret == "" {
		return nil, common.ErrorNotFound
	}
	hash := common.HashToken(secret)

	var pair *TokenPair
	err := dbx.Retry(ctx, a.retry, func(ctx context.Context) error {
		return a.repos.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			repo := a.repos.RefreshTokens(tx)
			old, err := repo.Consume(ctx, hash, a.clock.Now())
			if err != nil {
				return err
			}
			pair, err = a.issue(ctx, repo, old.Subject, old.Roles)
			return err
		})
	})
	a.record("rotate", err)
	if err != nil {
		if errors.Is(err, common.ErrRefreshTokenUsed) {
			a.logger.Warn(ctx, "refresh token reuse detected")
		}
		return nil, err
	}
	return pair, nil
}

// RevokeSubject revokes every refresh token of subject. Access tokens
// already issued stay valid until they expire.
func (a *TokenAuthority) RevokeSubject(ctx context.Context, subject string) (int64, error) {
	var n int64
	err := dbx.Retry(ctx, a.retry, func(ctx context.Context) error {
		var err error
		n, err = a.repos.RefreshTokens(a.repos.DB()).RevokeSubject(ctx, subject)
		return err
	})
	a.record("revoke_subject", err)
	return n, err
}

// RevokeRefreshToken revokes one refresh token by record id. A non-empty
// owner limits the revoke to that subject's tokens; anyone else's id is
// reported as common.ErrorNotFound.
func (a *TokenAuthority) RevokeRefreshToken(ctx context.Context, id, owner string) error {
	if id == "" {
		return common.ErrorNotFound
	}
	err := dbx.Retry(ctx, a.retry, func(ctx context.Context) error {
		repo := a.repos.RefreshTokens(a.repos.DB())
		if owner == "" {
			return repo.Revoke(ctx, id)
		}
		return repo.RevokeOwned(ctx, id, owner)
	})
	a.record("revoke", err)
	return err
}

// RevokeRefreshSecret is logout: it revokes the refresh token behind secret.
func (a *TokenAuthority) RevokeRefreshSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return common.ErrorNotFound
	}
	err := dbx.Retry(ctx, a.retry, func(ctx context.Context) error {
		return a.repos.RefreshTokens(a.repos.DB()).RevokeByHash(ctx, common.HashToken(secret))
	})
	a.record("revoke", err)
	return err
}

// RevokeAccessToken denylists the token described by claims. Without a
// denylist it does nothing.
func (a *TokenAuthority) RevokeAccessToken(ctx context.Context, claims *auth.Claims) error {
	if a.denylist == nil || claims == nil {
		return nil
	}
	err := a.denylist.Revoke(ctx, claims.ID, claims.ExpiresAtTime())
	a.record("revoke_access", err)
	return err
}

// PurgeExpired drops refresh tokens that expired before now.
func (a *TokenAuthority) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := dbx.Retry(ctx, a.retry, func(ctx context.Context) error {
		var err error
		n, err = a.repos.RefreshTokens(a.repos.DB()).DeleteExpired(ctx, a.clock.Now())
		return err
	})
	return n, err
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (a *TokenAuthority) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.PurgeExpired(ctx)
			if err != nil {
				a.logger.Warn(ctx, "refresh token purge failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug(ctx, "expired refresh tokens purged", "count", n)
			}
		}
	}
}

func (a *TokenAuthority) record(op string, err error) {
	a.metrics.TokenOperation(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrRefreshTokenExpired):
		return "expired"
	case errors.Is(err, common.ErrRefreshTokenUsed):
		return "reused"
	case errors.Is(err, common.ErrTokenRevoked), errors.Is(err, common.ErrRefreshTokenRevoked):
		return "revoked"
	case errors.Is(err, common.ErrInvalidToken):
		return "invalid"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, common.ErrTransientStorage), errors.Is(err, common.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", common.ErrTimeout, err)
	}
	return err
}
