package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/gatekeeper/internal/flagx"
)

// applyFlags overlays command-line flags.
//
//	-a string    HTTP bind address (e.g. ":8080")
//	-g string    gRPC bind address (e.g. ":50051")
//	-d string    PostgreSQL DSN; empty keeps in-memory storage
//	-s string    JWT HMAC secret key
//	-t duration  access token lifetime
//	-r duration  refresh token lifetime
//	-l string    log level
//	-u string    upstream gRPC endpoint
//	-p int       upstream connection pool size
//	-b string    rate limit backend (memory|redis)
//	-R string    Redis address
//
// Only these flags are read from args, see flagx.FilterArgs.
func (c *Config) applyFlags(args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-s", "-t", "-r", "-l", "-u", "-p", "-b", "-R"})

	fs := flag.NewFlagSet("gatekeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.HTTPAddr, "a", c.HTTPAddr, "HTTP address and port")
	fs.StringVar(&c.GRPCAddr, "g", c.GRPCAddr, "gRPC address and port")
	fs.StringVar(&c.DatabaseDSN, "d", c.DatabaseDSN, "database DSN")
	fs.StringVar(&c.SecretKey, "s", c.SecretKey, "secret key")
	fs.DurationVar(&c.AccessTokenTTL, "t", c.AccessTokenTTL, "access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "r", c.RefreshTokenTTL, "refresh token lifetime")
	fs.StringVar(&c.LogLevel, "l", c.LogLevel, "log level")
	fs.StringVar(&c.Upstream.Endpoint, "u", c.Upstream.Endpoint, "upstream gRPC endpoint")
	fs.IntVar(&c.Upstream.PoolSize, "p", c.Upstream.PoolSize, "upstream connection pool size")
	fs.StringVar(&c.RateLimit.Backend, "b", c.RateLimit.Backend, "rate limit backend")
	fs.StringVar(&c.RateLimit.RedisAddr, "R", c.RateLimit.RedisAddr, "redis address")

	return fs.Parse(args)
}
