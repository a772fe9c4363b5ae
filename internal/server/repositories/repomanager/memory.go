package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
)

// MemoryRepositoryManager serves process-local repositories. Single-statement
// atomicity comes from the repositories' own locks. WithTx rolls back the
// refresh tokens created or consumed inside it; user writes are applied
// immediately.
type MemoryRepositoryManager struct {
	users  *users.MemoryRepository
	tokens *refreshtokens.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	tokens := refreshtokens.NewMemoryRepository()
	return &MemoryRepositoryManager{
		users:  users.NewMemoryRepository(tokens),
		tokens: tokens,
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) DB() dbx.DBTX { return nil }

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository { return m.users }

func (m *MemoryRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	if tx, ok := db.(*memTx); ok {
		return m.tokens.InTx(tx.journal)
	}
	return m.tokens
}

// memTx is the handle WithTx passes to fn. Memory repositories never run
// SQL, so the embedded DBTX stays nil.
type memTx struct {
	dbx.DBTX
	journal *refreshtokens.Journal
}

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	tx := &memTx{journal: &refreshtokens.Journal{}}
	defer func() {
		if p := recover(); p != nil {
			m.tokens.Rollback(tx.journal)
			panic(p)
		}
		if err != nil {
			m.tokens.Rollback(tx.journal)
		}
	}()
	return fn(ctx, tx)
}

func (m *MemoryRepositoryManager) Ping(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Close() error { return nil }
