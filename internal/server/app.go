// Package server wires the gatekeeper components together and runs them:
// storage, admission control, the token authority, the downstream
// connection pool, and the HTTP and gRPC servers. It handles signals and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/grpcpool"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/admission"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/downstream"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/dmitrijs2005/gatekeeper/internal/server/snapshots"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/gatekeeper/internal/server/grpc"
	hs "github.com/dmitrijs2005/gatekeeper/internal/server/http"
)

const (
	denylistKeyPrefix    = "gatekeeper:deny:"
	refreshPurgeInterval = time.Hour
	startupPingTimeout   = 5 * time.Second
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	clock    timex.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	repos       repomanager.RepositoryManager
	redis       redis.UniversalClient
	admission   *admission.Controller
	memDenylist *auth.MemoryDenylist
	snapshots   *snapshots.Runner
	tokens      *services.TokenAuthority
	users       *services.UserService
	pool        *grpcpool.Pool[*grpcpool.GRPCConn]

	grpcServer *gs.GRPCServer
	httpServer *hs.Server
}

// NewApp builds every component from c. Storage that cannot be reached at
// startup is an error; Redis is only warned about because admission has a
// fail policy for it.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		config:   c,
		logger:   logger,
		clock:    timex.SystemClock{},
		registry: registry,
		metrics:  metrics.New(registry),
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}
	app.initRedis(ctx)
	app.initAdmission()
	denylist, err := app.initDenylist(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.initAuth(denylist); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.initPool()
	if err := app.initServers(); err != nil {
		_ = app.Close()
		return nil, err
	}

	logger.Info(ctx, "app initialized", "config", c.String())
	return app, nil
}

func (app *App) initStorage(ctx context.Context) error {
	if app.config.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database configured, using in-memory storage")
		app.repos = repomanager.NewMemoryRepositoryManager()
		return nil
	}

	db, err := repomanager.OpenPostgres(ctx, app.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	repos := repomanager.NewPostgresRepositoryManager(db)
	if err := repos.RunMigrations(ctx); err != nil {
		_ = repos.Close()
		return fmt.Errorf("db migration error: %w", err)
	}
	app.repos = repos
	return nil
}

func (app *App) needsRedis() bool {
	c := app.config
	return c.RateLimit.Backend == config.BackendRedis ||
		(c.Denylist.Enabled && c.Denylist.Backend == config.BackendRedis)
}

func (app *App) initRedis(ctx context.Context) {
	if !app.needsRedis() {
		return
	}
	rl := app.config.RateLimit
	app.redis = redis.NewClient(&redis.Options{
		Addr:     rl.RedisAddr,
		Password: rl.RedisPassword,
		DB:       rl.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := app.redis.Ping(pingCtx).Err(); err != nil {
		app.logger.Warn(ctx, "redis is not reachable", "addr", rl.RedisAddr, "error", err)
	}
}

func (app *App) initAdmission() {
	rl := app.config.RateLimit

	var store admission.CounterStore
	if rl.Backend == config.BackendRedis {
		store = admission.NewBreakerStore(
			admission.NewRedisStore(app.redis, rl.KeyPrefix, app.clock),
			rl.BreakerFailures, rl.BreakerOpenTimeout, app.logger,
		)
	} else {
		store = admission.NewMemoryStore(app.clock)
	}

	app.admission = admission.NewController(store, admission.PoliciesFromConfig(rl.Classes),
		rl.FailClosedRetryAfter, app.logger, app.metrics)
}

// initDenylist returns nil when access token revocation is disabled.
func (app *App) initDenylist(ctx context.Context) (auth.Denylist, error) {
	dl := app.config.Denylist
	if !dl.Enabled {
		return nil, nil
	}
	if dl.Backend == config.BackendRedis {
		return auth.NewRedisDenylist(app.redis, denylistKeyPrefix, app.clock), nil
	}

	app.memDenylist = auth.NewMemoryDenylist(app.clock)
	if dl.S3.Bucket == "" {
		return app.memDenylist, nil
	}

	store, err := snapshots.NewS3Store(ctx, dl.S3)
	if err != nil {
		return nil, fmt.Errorf("denylist snapshot store: %w", err)
	}
	app.snapshots = snapshots.NewRunner(store, app.memDenylist, app.clock, app.logger)
	if _, err := app.snapshots.Restore(ctx); err != nil {
		app.logger.Warn(ctx, "denylist snapshot not restored", "error", err)
	}
	return app.memDenylist, nil
}

func (app *App) initAuth(denylist auth.Denylist) error {
	c := app.config
	hasher := auth.NewArgon2Hasher(auth.Argon2Params{
		MemoryKiB:   c.Password.MemoryKiB,
		Iterations:  c.Password.Iterations,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	})

	app.tokens = services.NewTokenAuthority(services.TokenAuthorityDeps{
		Repos:      app.repos,
		Issuer:     auth.NewTokenIssuer([]byte(c.SecretKey), c.Issuer, c.AccessTokenTTL, app.clock),
		Hashing:    auth.NewHashingPool(hasher, c.Password.Workers),
		Denylist:   denylist,
		RefreshTTL: c.RefreshTokenTTL,
		Retry:      dbx.DefaultRetryPolicy,
		Clock:      app.clock,
		Logger:     app.logger,
		Metrics:    app.metrics,
	})
	users, err := services.NewUserService(app.repos, app.tokens, app.logger)
	if err != nil {
		return err
	}
	app.users = users
	return nil
}

func (app *App) initPool() {
	up := app.config.Upstream
	factory := &grpcpool.GRPCFactory{
		Target:         up.Endpoint,
		ConnectTimeout: up.ConnectTimeout,
		HealthService:  rpcapi.UserStatsServiceName,
	}
	app.pool = grpcpool.New[*grpcpool.GRPCConn](factory, grpcpool.Options{
		MaxConnections:      up.PoolSize,
		AcquireTimeout:      up.AcquireTimeout,
		HealthCheckInterval: up.HealthCheckInterval,
		MaxConnAge:          up.MaxConnAge,
		DialAttempts:        up.DialAttempts,
		CallAttempts:        up.CallAttempts,
		Clock:               app.clock,
		Logger:              app.logger,
	})
	app.registry.MustRegister(app.pool.Collector("gatekeeper", prometheus.Labels{"upstream": up.Endpoint}))
}

// initServers builds both listeners. With a loopback upstream the HTTP
// gateway and the gRPC server share a relay key so /users/me/stats is
// admitted once.
func (app *App) initServers() error {
	stats := downstream.NewUserStatsClient(app.pool, app.config.Upstream.ConnectTimeout, app.logger)
	var relayKey string
	if app.config.Upstream.Loopback {
		key, err := common.MakeRandHexString(16)
		if err != nil {
			return fmt.Errorf("relay key: %w", err)
		}
		relayKey = key
		stats.WithRelayKey(relayKey)
	}

	app.grpcServer = gs.NewGRPCServer(app.config.GRPCAddr, gs.Deps{
		Users:     app.users,
		Tokens:    app.tokens,
		Admission: app.admission,
		Metrics:   app.metrics,
		Logger:    app.logger,
		RelayKey:  relayKey,
	})

	probes := []hs.Probe{{Name: "database", Check: app.repos.Ping}}
	if app.redis != nil {
		probes = append(probes, hs.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}})
	}

	app.httpServer = hs.NewServer(app.config.HTTPAddr, app.config.ShutdownTimeout, hs.Deps{
		Users:     app.users,
		Tokens:    app.tokens,
		Stats:     stats,
		Admission: app.admission,
		Probes:    probes,
		Pool:      app.pool,
		Metrics:   app.metrics,
		Gatherer:  app.registry,
		Logger:    app.logger,
	})
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// applyConfig hot-applies the settings that can change without a restart.
func (app *App) applyConfig(c *config.Config) {
	app.admission.UpdatePolicies(admission.PoliciesFromConfig(c.RateLimit.Classes))
	app.logger.Info(context.Background(), "rate limit policies updated", "classes", len(c.RateLimit.Classes))
}

// warmPool opens the first upstream connection so the first request does not
// pay for the dial. Failure is not fatal; the pool dials on demand.
func (app *App) warmPool(ctx context.Context) {
	conn, err := app.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			app.logger.Warn(ctx, "upstream not reachable yet", "endpoint", app.config.Upstream.Endpoint, "error", err)
		}
		return
	}
	app.pool.Release(conn)
}

// Run serves until a signal arrives, ctx is done or a server fails, then
// stops every component.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.grpcServer.Run(gctx) })
	g.Go(func() error { return app.httpServer.Run(gctx) })

	app.pool.Start(gctx)
	g.Go(func() error {
		app.warmPool(gctx)
		return nil
	})

	rl := app.config.RateLimit
	g.Go(func() error {
		app.admission.RunJanitor(gctx, rl.JanitorInterval, rl.IdleTTL)
		return nil
	})
	g.Go(func() error {
		app.tokens.RunPurger(gctx, refreshPurgeInterval)
		return nil
	})
	if app.memDenylist != nil {
		g.Go(func() error {
			app.memDenylist.RunPruner(gctx, app.config.Denylist.PruneInterval)
			return nil
		})
	}
	if app.snapshots != nil {
		g.Go(func() error {
			app.snapshots.Run(gctx, app.config.Denylist.SnapshotInterval)
			return nil
		})
	}

	if app.config.ConfigFile != "" {
		w, err := config.NewWatcher(app.config, app.logger, app.applyConfig)
		if err != nil {
			app.logger.Warn(ctx, "config watcher disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err := g.Wait()
	if closeErr := app.Close(); closeErr != nil {
		app.logger.Error(context.Background(), "shutdown error", "error", closeErr)
	}
	app.logger.Info(context.Background(), "app stopped")
	return err
}

// Close releases the pool, the database and the Redis client.
func (app *App) Close() error {
	var errs []error
	if app.pool != nil {
		errs = append(errs, app.pool.Close())
	}
	if app.repos != nil {
		errs = append(errs, app.repos.Close())
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	return errors.Join(errs...)
}
