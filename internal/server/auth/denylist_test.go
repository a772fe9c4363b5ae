package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDenylist_RevokeAndExpire(t *testing.T) {
	clock := timex.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewMemoryDenylist(clock)
	ctx := context.Background()

	require.NoError(t, d.Revoke(ctx, "jti-1", clock.Now().Add(time.Minute)))
	require.NoError(t, d.Revoke(ctx, "jti-old", clock.Now().Add(-time.Second)))

	ok, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.IsRevoked(ctx, "jti-old")
	assert.False(t, ok)
	ok, _ = d.IsRevoked(ctx, "unknown")
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())

	clock.Advance(time.Minute)
	ok, _ = d.IsRevoked(ctx, "jti-1")
	assert.False(t, ok)
	assert.Equal(t, 1, d.Prune())
	assert.Equal(t, 0, d.Len())
}

func TestMemoryDenylist_SnapshotRestore(t *testing.T) {
	clock := timex.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	src := NewMemoryDenylist(clock)
	ctx := context.Background()
	require.NoError(t, src.Revoke(ctx, "a", clock.Now().Add(time.Hour)))
	require.NoError(t, src.Revoke(ctx, "b", clock.Now().Add(2*time.Hour)))

	snap := src.Snapshot()
	require.Len(t, snap, 2)

	dst := NewMemoryDenylist(clock)
	snap = append(snap, DenylistEntry{JTI: "stale", ExpiresAt: clock.Now().Add(-time.Minute)}, DenylistEntry{})
	assert.Equal(t, 2, dst.Restore(snap))
	assert.Equal(t, 0, dst.Restore(snap))

	ok, _ := dst.IsRevoked(ctx, "b")
	assert.True(t, ok)
	ok, _ = dst.IsRevoked(ctx, "stale")
	assert.False(t, ok)
}

func TestMemoryDenylist_RunPrunerStops(t *testing.T) {
	d := NewMemoryDenylist(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.RunPruner(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestRedisDenylist(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := timex.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewRedisDenylist(client, "gk:deny:", clock)
	ctx := context.Background()

	require.NoError(t, d.Revoke(ctx, "jti-1", clock.Now().Add(time.Minute)))
	require.NoError(t, d.Revoke(ctx, "expired", clock.Now().Add(-time.Minute)))

	assert.True(t, mr.Exists("gk:deny:jti-1"))
	assert.False(t, mr.Exists("gk:deny:expired"))

	ok, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisDenylist_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	d := NewRedisDenylist(client, "x:", nil)
	_, err := d.IsRevoked(context.Background(), "jti")
	assert.Error(t, err)
}
