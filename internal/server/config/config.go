// Package config handles configuration for the gatekeeper server. Values are
// layered: built-in defaults, then an optional JSON or YAML file, then
// environment variables, then command-line flags. The result is validated
// before the server starts.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/flagx"
)

// Config holds runtime settings for the gatekeeper server.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	LogLevel        string
	DatabaseDSN     string
	SecretKey       string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ShutdownTimeout time.Duration

	// ConfigFile is the file the config was read from, if any. The watcher
	// reloads it on change.
	ConfigFile string

	Password  PasswordConfig
	RateLimit RateLimitConfig
	Upstream  UpstreamConfig
	Denylist  DenylistConfig
}

// PasswordConfig sets the argon2id cost and the size of the hashing pool.
type PasswordConfig struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Workers     int
}

// ClassLimit overrides the admission policy of one endpoint class.
// A nil FailOpen keeps the class default.
type ClassLimit struct {
	Limit    int
	Window   time.Duration
	FailOpen *bool
}

// RateLimitConfig selects the counter store and tunes admission.
type RateLimitConfig struct {
	Backend              string // "memory" or "redis"
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	KeyPrefix            string
	IdleTTL              time.Duration
	JanitorInterval      time.Duration
	FailClosedRetryAfter time.Duration
	BreakerFailures      uint32
	BreakerOpenTimeout   time.Duration
	Classes              map[string]ClassLimit
}

// UpstreamConfig describes the downstream gRPC service and its connection pool.
type UpstreamConfig struct {
	Endpoint            string
	Loopback            bool // Endpoint was derived from GRPCAddr
	PoolSize            int
	ConnectTimeout      time.Duration
	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration
	MaxConnAge          time.Duration
	DialAttempts        int
	CallAttempts        int
}

// DenylistConfig enables access-token revocation by jti.
type DenylistConfig struct {
	Enabled          bool
	Backend          string // "memory" or "redis"
	PruneInterval    time.Duration
	SnapshotInterval time.Duration
	S3               S3Config
}

// S3Config points memory denylist snapshots at an S3-compatible bucket.
// An empty Bucket disables snapshots.
type S3Config struct {
	Bucket       string
	ObjectKey    string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	// MinHealthCheckInterval is the lowest accepted pool health check period.
	MinHealthCheckInterval = time.Second
)

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey must be overridden outside local development.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.LogLevel = "info"
	c.DatabaseDSN = ""
	c.SecretKey = "dev-secret-key-change-me-0123456789"
	c.Issuer = "gatekeeper"
	c.AccessTokenTTL = time.Hour
	c.RefreshTokenTTL = 30 * 24 * time.Hour
	c.ShutdownTimeout = 15 * time.Second

	c.Password = PasswordConfig{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		Workers:     0,
	}

	c.RateLimit = RateLimitConfig{
		Backend:              BackendMemory,
		RedisAddr:            "127.0.0.1:6379",
		KeyPrefix:            "gatekeeper:rl:",
		IdleTTL:              2 * time.Hour,
		JanitorInterval:      time.Minute,
		FailClosedRetryAfter: 5 * time.Second,
		BreakerFailures:      5,
		BreakerOpenTimeout:   10 * time.Second,
		Classes:              map[string]ClassLimit{},
	}

	c.Upstream = UpstreamConfig{
		Endpoint:            "",
		PoolSize:            10,
		ConnectTimeout:      30 * time.Second,
		AcquireTimeout:      5 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		MaxConnAge:          30 * time.Minute,
		DialAttempts:        3,
		CallAttempts:        2,
	}

	c.Denylist = DenylistConfig{
		Enabled:          false,
		Backend:          BackendMemory,
		PruneInterval:    time.Minute,
		SnapshotInterval: 5 * time.Minute,
		S3: S3Config{
			ObjectKey: "denylist/snapshot.json",
			Region:    "us-east-1",
		},
	}
}

// Load builds a Config from defaults, the file named by -c/-config (or the
// CONFIG_FILE variable), environment variables read through getenv, and the
// flags in args. The result is validated; any failure wraps
// common.ErrFatalConfig.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path := flagx.ConfigFileFlag(args)
	if path == "" {
		path = getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fatal(err)
		}
		cfg.ConfigFile = path
	}

	cfg.applyEnv(getenv)

	if err := cfg.applyFlags(args); err != nil {
		return nil, fatal(err)
	}

	cfg.deriveUpstream()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

// deriveUpstream points the pool at our own gRPC listener when no upstream
// is configured.
func (c *Config) deriveUpstream() {
	if c.Upstream.Endpoint != "" {
		return
	}
	_, port, err := net.SplitHostPort(c.GRPCAddr)
	if err != nil || port == "" {
		return
	}
	c.Upstream.Endpoint = net.JoinHostPort("127.0.0.1", port)
	c.Upstream.Loopback = true
}

func (c *Config) String() string {
	return fmt.Sprintf("http=%s grpc=%s db=%t upstream=%s pool=%d ratelimit=%s denylist=%t",
		c.HTTPAddr, c.GRPCAddr, c.DatabaseDSN != "", c.Upstream.Endpoint, c.Upstream.PoolSize,
		c.RateLimit.Backend, c.Denylist.Enabled)
}
