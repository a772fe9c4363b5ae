package auth

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

// Denylist records revoked access tokens by jti until they would have
// expired anyway.
type Denylist interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// DenylistEntry is one revoked jti, as persisted in snapshots.
type DenylistEntry struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MemoryDenylist is a process-local Denylist.
type MemoryDenylist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	clock   timex.Clock
}

func NewMemoryDenylist(clock timex.Clock) *MemoryDenylist {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &MemoryDenylist{entries: make(map[string]time.Time), clock: clock}
}

func (d *MemoryDenylist) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if !d.clock.Now().Before(expiresAt) {
		return nil
	}
	d.mu.Lock()
	d.entries[jti] = expiresAt
	d.mu.Unlock()
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.RLock()
	exp, ok := d.entries[jti]
	d.mu.RUnlock()
	return ok && d.clock.Now().Before(exp), nil
}

// Prune drops entries whose tokens have expired and returns how many.
func (d *MemoryDenylist) Prune() int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for jti, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, jti)
			n++
		}
	}
	return n
}

func (d *MemoryDenylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Snapshot returns the live entries.
func (d *MemoryDenylist) Snapshot() []DenylistEntry {
	now := d.clock.Now()
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DenylistEntry, 0, len(d.entries))
	for jti, exp := range d.entries {
		if now.Before(exp) {
			out = append(out, DenylistEntry{JTI: jti, ExpiresAt: exp})
		}
	}
	return out
}

// Restore merges entries, skipping the expired ones. It returns the number
// of entries added.
func (d *MemoryDenylist) Restore(entries []DenylistEntry) int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.JTI == "" || !now.Before(e.ExpiresAt) {
			continue
		}
		if _, ok := d.entries[e.JTI]; !ok {
			n++
		}
		d.entries[e.JTI] = e.ExpiresAt
	}
	return n
}

// RunPruner calls Prune every interval until ctx is done.
func (d *MemoryDenylist) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Prune()
		}
	}
}
