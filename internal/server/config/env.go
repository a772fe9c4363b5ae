package config

import (
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays environment variables. Unparseable or out-of-range
// numeric values are ignored and the previous setting is kept.
//
//	PORT                             HTTP port (binds ":<port>")
//	GRPC_PORT                        gRPC port (binds ":<port>")
//	LOG_LEVEL                        debug|info|warn|error
//	APP_DATABASE__URL, DATABASE_URL  PostgreSQL DSN
//	APP_AUTH__JWT_SECRET, JWT_SECRET HMAC signing key
//	JWT_ISSUER                       token issuer
//	ACCESS_TOKEN_TTL                 duration, e.g. "15m"
//	REFRESH_TOKEN_TTL                duration, e.g. "720h"
//	RATE_LIMIT_BACKEND               memory|redis
//	REDIS_ADDR, REDIS_PASSWORD       Redis connection
//	GRPC_UPSTREAM_ENDPOINT           downstream host:port
//	GRPC_CONNECTION_POOL_SIZE        >= 1
//	GRPC_CONNECTION_TIMEOUT_SECS     >= 1
//	GRPC_HEALTH_CHECK_INTERVAL_SECS  >= 1
//	DENYLIST_ENABLED                 true|false
//	S3_BUCKET, S3_REGION, S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY
func (c *Config) applyEnv(getenv func(string) string) {
	if port, ok := envInt(getenv, "PORT", 1); ok && port <= 65535 {
		c.HTTPAddr = ":" + strconv.Itoa(port)
	}
	if port, ok := envInt(getenv, "GRPC_PORT", 1); ok && port <= 65535 {
		c.GRPCAddr = ":" + strconv.Itoa(port)
	}
	setString(&c.LogLevel, getenv("LOG_LEVEL"))

	setString(&c.DatabaseDSN, firstEnv(getenv, "APP_DATABASE__URL", "DATABASE_URL"))
	setString(&c.SecretKey, firstEnv(getenv, "APP_AUTH__JWT_SECRET", "JWT_SECRET"))
	setString(&c.Issuer, getenv("JWT_ISSUER"))
	if d, ok := envDuration(getenv, "ACCESS_TOKEN_TTL"); ok {
		c.AccessTokenTTL = d
	}
	if d, ok := envDuration(getenv, "REFRESH_TOKEN_TTL"); ok {
		c.RefreshTokenTTL = d
	}

	setString(&c.RateLimit.Backend, strings.ToLower(getenv("RATE_LIMIT_BACKEND")))
	setString(&c.RateLimit.RedisAddr, getenv("REDIS_ADDR"))
	setString(&c.RateLimit.RedisPassword, getenv("REDIS_PASSWORD"))

	setString(&c.Upstream.Endpoint, getenv("GRPC_UPSTREAM_ENDPOINT"))
	if n, ok := envInt(getenv, "GRPC_CONNECTION_POOL_SIZE", 1); ok {
		c.Upstream.PoolSize = n
	}
	if n, ok := envInt(getenv, "GRPC_CONNECTION_TIMEOUT_SECS", 1); ok {
		c.Upstream.ConnectTimeout = time.Duration(n) * time.Second
	}
	if n, ok := envInt(getenv, "GRPC_HEALTH_CHECK_INTERVAL_SECS", int(MinHealthCheckInterval/time.Second)); ok {
		c.Upstream.HealthCheckInterval = time.Duration(n) * time.Second
	}

	if v, err := strconv.ParseBool(getenv("DENYLIST_ENABLED")); err == nil {
		c.Denylist.Enabled = v
	}
	setString(&c.Denylist.S3.Bucket, getenv("S3_BUCKET"))
	setString(&c.Denylist.S3.Region, getenv("S3_REGION"))
	setString(&c.Denylist.S3.BaseEndpoint, getenv("S3_ENDPOINT"))
	setString(&c.Denylist.S3.AccessKey, getenv("S3_ACCESS_KEY"))
	setString(&c.Denylist.S3.SecretKey, getenv("S3_SECRET_KEY"))
}

func firstEnv(getenv func(string) string, names ...string) string {
	for _, n := range names {
		if v := getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func envInt(getenv func(string) string, name string, min int) (int, bool) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, false
	}
	return n, true
}

func envDuration(getenv func(string) string, name string) (time.Duration, bool) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
