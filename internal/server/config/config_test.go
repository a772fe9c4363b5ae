package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, ":50051", c.GRPCAddr)
	assert.Empty(t, c.DatabaseDSN)
	assert.Equal(t, time.Hour, c.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, c.RefreshTokenTTL)
	assert.Equal(t, BackendMemory, c.RateLimit.Backend)
	assert.Equal(t, 10, c.Upstream.PoolSize)
	assert.Equal(t, 30*time.Second, c.Upstream.ConnectTimeout)
	assert.Equal(t, 60*time.Second, c.Upstream.HealthCheckInterval)
	assert.False(t, c.Denylist.Enabled)
}

func TestLoad_DefaultsAreValidAndDeriveUpstream(t *testing.T) {
	c, err := Load(nil, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:50051", c.Upstream.Endpoint)
	assert.True(t, c.Upstream.Loopback)
	assert.Empty(t, c.ConfigFile)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "gk.yaml", `
http_addr: ":9090"
access_token_ttl: 15m
refresh_token_ttl: 48h
rate_limit:
  backend: redis
  redis_addr: "redis:6379"
  classes:
    Login:
      limit: 10
      window: 30s
      fail_open: true
upstream:
  endpoint: "stats:7000"
  pool_size: 4
  health_check_interval: 5s
denylist:
  enabled: true
  s3:
    bucket: snaps
`)

	c, err := Load([]string{"-c", path}, envFrom(nil))
	require.NoError(t, err)

	open := true
	want := map[string]ClassLimit{"login": {Limit: 10, Window: 30 * time.Second, FailOpen: &open}}
	if diff := cmp.Diff(want, c.RateLimit.Classes); diff != "" {
		t.Fatalf("classes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.Equal(t, 15*time.Minute, c.AccessTokenTTL)
	assert.Equal(t, 48*time.Hour, c.RefreshTokenTTL)
	assert.Equal(t, BackendRedis, c.RateLimit.Backend)
	assert.Equal(t, "redis:6379", c.RateLimit.RedisAddr)
	assert.Equal(t, "stats:7000", c.Upstream.Endpoint)
	assert.False(t, c.Upstream.Loopback)
	assert.Equal(t, 4, c.Upstream.PoolSize)
	assert.Equal(t, 5*time.Second, c.Upstream.HealthCheckInterval)
	assert.True(t, c.Denylist.Enabled)
	assert.Equal(t, "snaps", c.Denylist.S3.Bucket)
	assert.Equal(t, "denylist/snapshot.json", c.Denylist.S3.ObjectKey, "unset keys keep defaults")
	assert.Equal(t, path, c.ConfigFile)
}

func TestLoad_JSONFileFromEnv(t *testing.T) {
	path := writeFile(t, "gk.json", `{"grpc_addr": ":6000", "upstream": {"connect_timeout": "2s"}}`)

	c, err := Load(nil, envFrom(map[string]string{"CONFIG_FILE": path}))
	require.NoError(t, err)

	assert.Equal(t, ":6000", c.GRPCAddr)
	assert.Equal(t, 2*time.Second, c.Upstream.ConnectTimeout)
	assert.Equal(t, "127.0.0.1:6000", c.Upstream.Endpoint)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "gk.yaml", "http_addr: \":1111\"\nsecret_key: file-secret-file-secret-file-secret-xx\nupstream:\n  pool_size: 3\n")
	env := envFrom(map[string]string{
		"PORT":                      "2222",
		"GRPC_CONNECTION_POOL_SIZE": "5",
		"APP_AUTH__JWT_SECRET":      "env-secret-env-secret-env-secret-env-xx",
	})

	c, err := Load([]string{"-c", path, "-a", ":3333", "-x", "ignored"}, env)
	require.NoError(t, err)

	assert.Equal(t, ":3333", c.HTTPAddr, "flags beat env and file")
	assert.Equal(t, 5, c.Upstream.PoolSize, "env beats file")
	assert.Equal(t, "env-secret-env-secret-env-secret-env-xx", c.SecretKey)
}

func TestLoad_OriginalEnvNames(t *testing.T) {
	env := envFrom(map[string]string{
		"GRPC_UPSTREAM_ENDPOINT":          "10.0.0.1:50052",
		"GRPC_CONNECTION_TIMEOUT_SECS":    "7",
		"GRPC_HEALTH_CHECK_INTERVAL_SECS": "9",
		"APP_DATABASE__URL":               "postgres://x",
		"DENYLIST_ENABLED":                "true",
	})
	c, err := Load(nil, env)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:50052", c.Upstream.Endpoint)
	assert.Equal(t, 7*time.Second, c.Upstream.ConnectTimeout)
	assert.Equal(t, 9*time.Second, c.Upstream.HealthCheckInterval)
	assert.Equal(t, "postgres://x", c.DatabaseDSN)
	assert.True(t, c.Denylist.Enabled)
}

func TestLoad_InvalidEnvValuesAreIgnored(t *testing.T) {
	env := envFrom(map[string]string{
		"PORT":                            "not-a-port",
		"GRPC_CONNECTION_POOL_SIZE":       "0",
		"GRPC_HEALTH_CHECK_INTERVAL_SECS": "0",
		"ACCESS_TOKEN_TTL":                "-5m",
	})
	c, err := Load(nil, env)
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, 10, c.Upstream.PoolSize)
	assert.Equal(t, 60*time.Second, c.Upstream.HealthCheckInterval)
	assert.Equal(t, time.Hour, c.AccessTokenTTL)
}

func TestLoad_FileErrorsAreFatal(t *testing.T) {
	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml")}, envFrom(nil))
	assert.ErrorIs(t, err, common.ErrFatalConfig)

	bad := writeFile(t, "bad.json", "{not json")
	_, err = Load([]string{"-c", bad}, envFrom(nil))
	assert.ErrorIs(t, err, common.ErrFatalConfig)
}

func TestLoad_BadFlagIsFatal(t *testing.T) {
	_, err := Load([]string{"-p", "many"}, envFrom(nil))
	assert.ErrorIs(t, err, common.ErrFatalConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"short secret", func(c *Config) { c.SecretKey = "short" }, false},
		{"refresh shorter than access", func(c *Config) { c.RefreshTokenTTL = time.Minute }, false},
		{"pool size zero", func(c *Config) { c.Upstream.PoolSize = 0 }, false},
		{"health interval below minimum", func(c *Config) { c.Upstream.HealthCheckInterval = 500 * time.Millisecond }, false},
		{"unknown backend", func(c *Config) { c.RateLimit.Backend = "etcd" }, false},
		{"redis without address", func(c *Config) { c.RateLimit.Backend = BackendRedis; c.RateLimit.RedisAddr = "" }, false},
		{"bad class", func(c *Config) { c.RateLimit.Classes = map[string]ClassLimit{"login": {Limit: 0, Window: time.Minute}} }, false},
		{"no iterations", func(c *Config) { c.Password.Iterations = 0 }, false},
		{"bad denylist backend", func(c *Config) { c.Denylist.Enabled = true; c.Denylist.Backend = "file" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			c.deriveUpstream()
			tt.mutate(&c)

			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, common.ErrFatalConfig)
		})
	}
}
