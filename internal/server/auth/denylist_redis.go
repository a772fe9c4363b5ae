package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/redis/go-redis/v9"
)

// RedisDenylist shares revocations between instances. Keys expire with the
// token they describe.
type RedisDenylist struct {
	client redis.UniversalClient
	prefix string
	clock  timex.Clock
}

func NewRedisDenylist(client redis.UniversalClient, prefix string, clock timex.Clock) *RedisDenylist {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &RedisDenylist{client: client, prefix: prefix, clock: clock}
}

func (d *RedisDenylist) key(jti string) string {
	return d.prefix + jti
}

func (d *RedisDenylist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.clock.Now())
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := d.client.Set(ctx, d.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist revoke: %w", err)
	}
	return nil
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("denylist lookup: %w", err)
	}
	return n > 0, nil
}
