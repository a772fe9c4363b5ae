package refreshtokens

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps refresh tokens in process memory. A single mutex
// makes Consume's check-and-set atomic.
type MemoryRepository struct {
	mu     sync.Mutex
	byHash map[string]*models.RefreshToken
	byID   map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byHash: make(map[string]*models.RefreshToken),
		byID:   make(map[string]string),
	}
}

func copyToken(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	c.Roles = slices.Clone(t.Roles)
	return &c
}

func (r *MemoryRepository) Create(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHash[t.TokenHash]; ok {
		return common.ErrorAlreadyExists
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	r.byHash[t.TokenHash] = copyToken(t)
	r.byID[t.ID] = t.TokenHash
	return nil
}

func (r *MemoryRepository) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyToken(t), nil
}

func (r *MemoryRepository) Consume(_ context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if err := t.Usable(now); err != nil {
		return nil, err
	}
	t.Used = true
	return copyToken(t), nil
}

func (r *MemoryRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.byHash[hash].Revoked = true
	return nil
}

func (r *MemoryRepository) RevokeOwned(_ context.Context, id, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byID[id]
	if !ok || r.byHash[hash].Subject != subject {
		return common.ErrorNotFound
	}
	r.byHash[hash].Revoked = true
	return nil
}

func (r *MemoryRepository) RevokeByHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if !ok {
		return common.ErrorNotFound
	}
	t.Revoked = true
	return nil
}

func (r *MemoryRepository) RevokeSubject(_ context.Context, subject string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.byHash {
		if t.Subject == subject && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountActive(_ context.Context, subject string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.byHash {
		if t.Subject == subject && t.Usable(now) == nil {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, t := range r.byHash {
		if !t.ExpiresAt.After(before) {
			delete(r.byHash, hash)
			delete(r.byID, t.ID)
			n++
		}
	}
	return n, nil
}

// Journal records the refresh token writes of one memory transaction so
// they can be undone.
type Journal struct {
	undo []func(r *MemoryRepository)
}

// InTx returns a view of r whose Create and Consume are recorded in j.
// Revokes and deletes through the view apply immediately and are not undone.
func (r *MemoryRepository) InTx(j *Journal) Repository {
	return &txRepository{MemoryRepository: r, journal: j}
}

// Rollback undoes the writes recorded in j, newest first, and empties it.
func (r *MemoryRepository) Rollback(j *Journal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i](r)
	}
	j.undo = nil
}

type txRepository struct {
	*MemoryRepository
	journal *Journal
}

func (r *txRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	if err := r.MemoryRepository.Create(ctx, t); err != nil {
		return err
	}
	id, hash := t.ID, t.TokenHash
	r.journal.undo = append(r.journal.undo, func(m *MemoryRepository) {
		delete(m.byHash, hash)
		delete(m.byID, id)
	})
	return nil
}

// Consume's undo only clears Used, so a revoke that lands before the
// rollback survives it.
func (r *txRepository) Consume(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	t, err := r.MemoryRepository.Consume(ctx, hash, now)
	if err != nil {
		return nil, err
	}
	r.journal.undo = append(r.journal.undo, func(m *MemoryRepository) {
		if cur, ok := m.byHash[hash]; ok {
			cur.Used = false
		}
	})
	return t, nil
}
