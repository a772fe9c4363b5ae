// Package repomanager vends repositories bound to a storage backend and runs
// work inside that backend's transactions.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

// RepositoryManager is the persistence gateway of the server.
type RepositoryManager interface {
	// RunMigrations brings the schema up to date.
	RunMigrations(ctx context.Context) error

	// DB is the non-transactional handle passed to the repository factories.
	DB() dbx.DBTX

	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository

	// WithTx runs fn inside one transaction; repositories built from tx
	// commit or roll back together.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
