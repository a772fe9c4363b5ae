package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, clock timex.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "gk:rl:", clock), mr
}

func TestRedisStore_SlidingWindow(t *testing.T) {
	clock := timex.NewManualClock(epoch)
	s, mr := newRedisStore(t, clock)

	checkSlidingWindow(t, s, clock)
	assert.True(t, mr.Exists("gk:rl:login:ip:10.0.0.1"))
}

func TestRedisStore_ConcurrentAtLimit(t *testing.T) {
	s, _ := newRedisStore(t, timex.NewManualClock(epoch))

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.CheckAndIncrement(context.Background(), "hot", 7, time.Minute)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(7), allowed.Load())
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t, nil)
	require.NoError(t, s.Ping(context.Background()))
	mr.Close()

	_, err := s.CheckAndIncrement(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)
}
