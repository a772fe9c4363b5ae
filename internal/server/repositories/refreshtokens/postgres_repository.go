package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO refresh_tokens (id, subject, token_hash, roles, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.Subject, t.TokenHash, models.JoinRoles(t.Roles), t.ExpiresAt, t.CreatedAt); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `
		SELECT id, subject, token_hash, roles, expires_at, created_at, used, revoked
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	var (
		t     models.RefreshToken
		roles string
	)
	err := r.db.QueryRowContext(ctx, query, hash).
		Scan(&t.ID, &t.Subject, &t.TokenHash, &roles, &t.ExpiresAt, &t.CreatedAt, &t.Used, &t.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.Roles = models.SplitRoles(roles)
	return &t, nil
}

// Consume relies on the row lock taken by the conditional UPDATE: a second
// caller blocks until the first commits, then no longer matches.
func (r *PostgresRepository) Consume(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens SET used = TRUE
		WHERE token_hash = $1 AND NOT used AND NOT revoked AND expires_at > $2
		RETURNING id, subject, roles, expires_at, created_at
	`
	t := models.RefreshToken{TokenHash: hash, Used: true}
	var roles string
	err := r.db.QueryRowContext(ctx, query, hash, now).Scan(&t.ID, &t.Subject, &roles, &t.ExpiresAt, &t.CreatedAt)
	if err == nil {
		t.Roles = models.SplitRoles(roles)
		return &t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	existing, err := r.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if reason := existing.Usable(now); reason != nil {
		return nil, reason
	}
	// Lost a race with a rotation that committed between the two statements.
	return nil, common.ErrRefreshTokenUsed
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) RevokeOwned(ctx context.Context, id, subject string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1 AND subject = $2`
	return r.execOne(ctx, query, id, subject)
}

func (r *PostgresRepository) RevokeByHash(ctx context.Context, hash string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`
	return r.execOne(ctx, query, hash)
}

func (r *PostgresRepository) RevokeSubject(ctx context.Context, subject string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE subject = $1 AND NOT revoked`
	res, err := r.db.ExecContext(ctx, query, subject)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, subject string, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM refresh_tokens
		WHERE subject = $1 AND NOT used AND NOT revoked AND expires_at > $2
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, subject, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
