package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingPool_HashAndVerify(t *testing.T) {
	p := NewHashingPool(NewArgon2Hasher(fastParams()), 2)
	ctx := context.Background()

	enc, err := p.HashPassword(ctx, "Passw0rd")
	require.NoError(t, err)

	ok, err := p.VerifyPassword(ctx, "Passw0rd", enc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.VerifyPassword(ctx, "wrong", enc)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, p.NeedsRehash(enc))
}

func TestHashingPool_Concurrent(t *testing.T) {
	p := NewHashingPool(NewArgon2Hasher(fastParams()), 2)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.HashPassword(context.Background(), "pw")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestHashingPool_DeadlineWhileQueued(t *testing.T) {
	p := NewHashingPool(NewArgon2Hasher(fastParams()), 1)
	require.NoError(t, p.sem.Acquire(context.Background(), 1))
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.HashPassword(ctx, "pw")
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHashingPool_CancelledContext(t *testing.T) {
	p := NewHashingPool(NewArgon2Hasher(fastParams()), 1)
	require.NoError(t, p.sem.Acquire(context.Background(), 1))
	defer p.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.VerifyPassword(ctx, "pw", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$a2V5")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, common.ErrTimeout)
}

func TestNewHashingPool_DefaultWorkers(t *testing.T) {
	p := NewHashingPool(NewArgon2Hasher(fastParams()), 0)
	assert.True(t, p.sem.TryAcquire(1))
	p.sem.Release(1)
}
