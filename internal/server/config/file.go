package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration, read from JSON or
// YAML. Durations accept strings such as "30s". Zero values leave the
// current setting untouched.
type FileConfig struct {
	HTTPAddr        string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr        string         `json:"grpc_addr" yaml:"grpc_addr"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
	DatabaseDSN     string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey       string         `json:"secret_key" yaml:"secret_key"`
	Issuer          string         `json:"issuer" yaml:"issuer"`
	AccessTokenTTL  timex.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL timex.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	ShutdownTimeout timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	Password  filePassword  `json:"password" yaml:"password"`
	RateLimit fileRateLimit `json:"rate_limit" yaml:"rate_limit"`
	Upstream  fileUpstream  `json:"upstream" yaml:"upstream"`
	Denylist  fileDenylist  `json:"denylist" yaml:"denylist"`
}

type filePassword struct {
	MemoryKiB   uint32 `json:"memory_kib" yaml:"memory_kib"`
	Iterations  uint32 `json:"iterations" yaml:"iterations"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	SaltLength  uint32 `json:"salt_length" yaml:"salt_length"`
	KeyLength   uint32 `json:"key_length" yaml:"key_length"`
	Workers     int    `json:"workers" yaml:"workers"`
}

type fileClassLimit struct {
	Limit    int            `json:"limit" yaml:"limit"`
	Window   timex.Duration `json:"window" yaml:"window"`
	FailOpen *bool          `json:"fail_open" yaml:"fail_open"`
}

type fileRateLimit struct {
	Backend              string                    `json:"backend" yaml:"backend"`
	RedisAddr            string                    `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword        string                    `json:"redis_password" yaml:"redis_password"`
	RedisDB              int                       `json:"redis_db" yaml:"redis_db"`
	KeyPrefix            string                    `json:"key_prefix" yaml:"key_prefix"`
	IdleTTL              timex.Duration            `json:"idle_ttl" yaml:"idle_ttl"`
	JanitorInterval      timex.Duration            `json:"janitor_interval" yaml:"janitor_interval"`
	FailClosedRetryAfter timex.Duration            `json:"fail_closed_retry_after" yaml:"fail_closed_retry_after"`
	BreakerFailures      uint32                    `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerOpenTimeout   timex.Duration            `json:"breaker_open_timeout" yaml:"breaker_open_timeout"`
	Classes              map[string]fileClassLimit `json:"classes" yaml:"classes"`
}

type fileUpstream struct {
	Endpoint            string         `json:"endpoint" yaml:"endpoint"`
	PoolSize            int            `json:"pool_size" yaml:"pool_size"`
	ConnectTimeout      timex.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	AcquireTimeout      timex.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	HealthCheckInterval timex.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	MaxConnAge          timex.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	DialAttempts        int            `json:"dial_attempts" yaml:"dial_attempts"`
	CallAttempts        int            `json:"call_attempts" yaml:"call_attempts"`
}

type fileDenylist struct {
	Enabled          *bool          `json:"enabled" yaml:"enabled"`
	Backend          string         `json:"backend" yaml:"backend"`
	PruneInterval    timex.Duration `json:"prune_interval" yaml:"prune_interval"`
	SnapshotInterval timex.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
	S3               fileS3         `json:"s3" yaml:"s3"`
}

type fileS3 struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	ObjectKey    string `json:"object_key" yaml:"object_key"`
	Region       string `json:"region" yaml:"region"`
	BaseEndpoint string `json:"base_endpoint" yaml:"base_endpoint"`
	AccessKey    string `json:"access_key" yaml:"access_key"`
	SecretKey    string `json:"secret_key" yaml:"secret_key"`
}

// ReadFile decodes a config file, choosing YAML for .yaml/.yml and JSON
// otherwise.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func (c *Config) applyFile(path string) error {
	fc, err := ReadFile(path)
	if err != nil {
		return err
	}
	c.ApplyFileConfig(fc)
	return nil
}

// ApplyFileConfig overlays the non-zero values of fc onto c.
func (c *Config) ApplyFileConfig(fc *FileConfig) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.GRPCAddr, fc.GRPCAddr)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.Issuer, fc.Issuer)
	setDuration(&c.AccessTokenTTL, fc.AccessTokenTTL)
	setDuration(&c.RefreshTokenTTL, fc.RefreshTokenTTL)
	setDuration(&c.ShutdownTimeout, fc.ShutdownTimeout)

	p := fc.Password
	setNumber(&c.Password.MemoryKiB, p.MemoryKiB)
	setNumber(&c.Password.Iterations, p.Iterations)
	setNumber(&c.Password.Parallelism, p.Parallelism)
	setNumber(&c.Password.SaltLength, p.SaltLength)
	setNumber(&c.Password.KeyLength, p.KeyLength)
	setNumber(&c.Password.Workers, p.Workers)

	rl := fc.RateLimit
	setString(&c.RateLimit.Backend, rl.Backend)
	setString(&c.RateLimit.RedisAddr, rl.RedisAddr)
	setString(&c.RateLimit.RedisPassword, rl.RedisPassword)
	setNumber(&c.RateLimit.RedisDB, rl.RedisDB)
	setString(&c.RateLimit.KeyPrefix, rl.KeyPrefix)
	setDuration(&c.RateLimit.IdleTTL, rl.IdleTTL)
	setDuration(&c.RateLimit.JanitorInterval, rl.JanitorInterval)
	setDuration(&c.RateLimit.FailClosedRetryAfter, rl.FailClosedRetryAfter)
	setNumber(&c.RateLimit.BreakerFailures, rl.BreakerFailures)
	setDuration(&c.RateLimit.BreakerOpenTimeout, rl.BreakerOpenTimeout)
	if len(rl.Classes) > 0 {
		classes := make(map[string]ClassLimit, len(rl.Classes))
		for name, cl := range rl.Classes {
			classes[strings.ToLower(name)] = ClassLimit{Limit: cl.Limit, Window: cl.Window.Duration, FailOpen: cl.FailOpen}
		}
		c.RateLimit.Classes = classes
	}

	up := fc.Upstream
	setString(&c.Upstream.Endpoint, up.Endpoint)
	setNumber(&c.Upstream.PoolSize, up.PoolSize)
	setDuration(&c.Upstream.ConnectTimeout, up.ConnectTimeout)
	setDuration(&c.Upstream.AcquireTimeout, up.AcquireTimeout)
	setDuration(&c.Upstream.HealthCheckInterval, up.HealthCheckInterval)
	setDuration(&c.Upstream.MaxConnAge, up.MaxConnAge)
	setNumber(&c.Upstream.DialAttempts, up.DialAttempts)
	setNumber(&c.Upstream.CallAttempts, up.CallAttempts)

	dl := fc.Denylist
	if dl.Enabled != nil {
		c.Denylist.Enabled = *dl.Enabled
	}
	setString(&c.Denylist.Backend, dl.Backend)
	setDuration(&c.Denylist.PruneInterval, dl.PruneInterval)
	setDuration(&c.Denylist.SnapshotInterval, dl.SnapshotInterval)
	setString(&c.Denylist.S3.Bucket, dl.S3.Bucket)
	setString(&c.Denylist.S3.ObjectKey, dl.S3.ObjectKey)
	setString(&c.Denylist.S3.Region, dl.S3.Region)
	setString(&c.Denylist.S3.BaseEndpoint, dl.S3.BaseEndpoint)
	setString(&c.Denylist.S3.AccessKey, dl.S3.AccessKey)
	setString(&c.Denylist.S3.SecretKey, dl.S3.SecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func setNumber[T int | uint8 | uint32](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}
