package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims, counts and conditionally appends in one step.
// KEYS[1] = key
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = limit, ARGV[4] = member
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
	local count = redis.call('ZCARD', KEYS[1])
	if count < limit then
		redis.call('ZADD', KEYS[1], now, ARGV[4])
		redis.call('PEXPIRE', KEYS[1], window)
		return {1, limit - count - 1, 0}
	end
	local retry = window
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, 0, retry}
`)

// RedisStore shares admission windows between instances through one sorted
// set per key. Timestamps come from the injected clock, not the server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  timex.Clock
}

func NewRedisStore(client redis.UniversalClient, prefix string, clock timex.Clock) *RedisStore {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &RedisStore{client: client, prefix: prefix, clock: clock}
}

func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string, limit int, win time.Duration) (Decision, error) {
	now := s.clock.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now, win.Milliseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis sliding window: unexpected reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      limit,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
