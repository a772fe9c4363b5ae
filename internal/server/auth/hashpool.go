package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"golang.org/x/sync/semaphore"
)

// HashingPool runs password hashing with bounded parallelism so a burst of
// logins cannot starve the rest of the process of CPU. Waiters are served
// in FIFO order.
type HashingPool struct {
	hasher *Argon2Hasher
	sem    *semaphore.Weighted
}

// NewHashingPool allows at most workers concurrent computations; zero or
// less means runtime.NumCPU().
func NewHashingPool(hasher *Argon2Hasher, workers int) *HashingPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &HashingPool{hasher: hasher, sem: semaphore.NewWeighted(int64(workers))}
}

func (p *HashingPool) HashPassword(ctx context.Context, plain string) (string, error) {
	var (
		hash string
		err  error
	)
	if runErr := p.run(ctx, func() { hash, err = p.hasher.Hash(plain) }); runErr != nil {
		return "", runErr
	}
	return hash, err
}

func (p *HashingPool) VerifyPassword(ctx context.Context, plain, encoded string) (bool, error) {
	var (
		ok  bool
		err error
	)
	if runErr := p.run(ctx, func() { ok, err = p.hasher.Verify(plain, encoded) }); runErr != nil {
		return false, runErr
	}
	return ok, err
}

// NeedsRehash is cheap and runs inline.
func (p *HashingPool) NeedsRehash(encoded string) bool {
	return p.hasher.NeedsRehash(encoded)
}

// run holds a slot for the whole computation, even when ctx ends first and
// the caller stops waiting for the result.
func (p *HashingPool) run(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return ctxError(err)
	}
	done := make(chan struct{})
	go func() {
		defer p.sem.Release(1)
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctxError(ctx.Err())
	}
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", common.ErrTimeout, err)
	}
	return err
}
