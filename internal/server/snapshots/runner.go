package snapshots

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

// Store is where snapshots go.
type Store interface {
	Save(ctx context.Context, entries []auth.DenylistEntry, at time.Time) error
	Load(ctx context.Context) ([]auth.DenylistEntry, error)
}

// Source is the denylist being snapshotted.
type Source interface {
	Snapshot() []auth.DenylistEntry
	Restore(entries []auth.DenylistEntry) int
}

type Runner struct {
	store  Store
	source Source
	clock  timex.Clock
	logger logging.Logger
}

func NewRunner(store Store, source Source, clock timex.Clock, logger logging.Logger) *Runner {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &Runner{store: store, source: source, clock: clock, logger: logger.With("module", "snapshots")}
}

// Restore loads the last snapshot into the denylist. A missing snapshot is
// not an error.
func (r *Runner) Restore(ctx context.Context) (int, error) {
	entries, err := r.store.Load(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		r.logger.Info(ctx, "no denylist snapshot found")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := r.source.Restore(entries)
	r.logger.Info(ctx, "denylist restored", "entries", n)
	return n, nil
}

func (r *Runner) SaveNow(ctx context.Context) error {
	return r.store.Save(ctx, r.source.Snapshot(), r.clock.Now())
}

// Run saves a snapshot every interval and once more when ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.SaveNow(final); err != nil {
				r.logger.Warn(final, "final denylist snapshot failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.SaveNow(ctx); err != nil {
				r.logger.Warn(ctx, "denylist snapshot failed", "error", err)
			}
		}
	}
}
