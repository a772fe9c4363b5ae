package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
)

const minSecretKeyLength = 32

// Validate checks that the configuration is usable. The returned error wraps
// common.ErrFatalConfig and lists every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTPAddr == "" {
		add("http address is empty")
	}
	if c.GRPCAddr == "" {
		add("grpc address is empty")
	}
	if len(c.SecretKey) < minSecretKeyLength {
		add("secret key must be at least %d bytes", minSecretKeyLength)
	}
	if c.AccessTokenTTL <= 0 {
		add("access token ttl must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		add("refresh token ttl must exceed access token ttl")
	}

	if c.Password.MemoryKiB < 8*uint32(c.Password.Parallelism) || c.Password.Parallelism == 0 {
		add("password hashing memory must be at least 8 KiB per lane")
	}
	if c.Password.Iterations == 0 {
		add("password hashing iterations must be positive")
	}
	if c.Password.SaltLength < 8 || c.Password.KeyLength < 16 {
		add("password salt must be >= 8 bytes and key >= 16 bytes")
	}
	if c.Password.Workers < 0 {
		add("password workers must not be negative")
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisAddr == "" {
			add("redis rate limit backend needs an address")
		}
	default:
		add("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.FailClosedRetryAfter <= 0 {
		add("fail-closed retry-after must be positive")
	}
	for name, cl := range c.RateLimit.Classes {
		if cl.Limit < 1 || cl.Window <= 0 {
			add("rate limit class %q needs limit >= 1 and a positive window", name)
		}
	}

	if c.Upstream.Endpoint == "" {
		add("upstream endpoint is empty")
	}
	if c.Upstream.PoolSize < 1 {
		add("upstream pool size must be >= 1")
	}
	if c.Upstream.ConnectTimeout <= 0 || c.Upstream.AcquireTimeout <= 0 {
		add("upstream timeouts must be positive")
	}
	if c.Upstream.HealthCheckInterval < MinHealthCheckInterval {
		add("upstream health check interval must be >= %s", MinHealthCheckInterval)
	}
	if c.Upstream.DialAttempts < 1 || c.Upstream.CallAttempts < 1 {
		add("upstream dial and call attempts must be >= 1")
	}

	if c.Denylist.Enabled {
		switch c.Denylist.Backend {
		case BackendMemory, BackendRedis:
		default:
			add("unknown denylist backend %q", c.Denylist.Backend)
		}
		if c.Denylist.Backend == BackendRedis && c.RateLimit.RedisAddr == "" {
			add("redis denylist needs a redis address")
		}
		if c.Denylist.S3.Bucket != "" && c.Denylist.S3.ObjectKey == "" {
			add("denylist snapshot object key is empty")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return fatal(errors.New(strings.Join(msgs, "; ")))
}

func fatal(err error) error {
	return fmt.Errorf("%w: %w", common.ErrFatalConfig, err)
}
