// Package http serves the gatekeeper REST API, health probes and the
// Prometheus endpoint with gin.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var ginModeOnce sync.Once

// Deps are the collaborators of the HTTP server. Admission, Stats, Metrics
// and Gatherer may be nil.
type Deps struct {
	Users     UserService
	Tokens    TokenService
	Stats     StatsClient
	Admission Admitter
	Probes    []Probe
	Pool      PoolStats
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    logging.Logger
}

type Server struct {
	address         string
	engine          *gin.Engine
	shutdownTimeout time.Duration
	logger          logging.Logger
}

func NewServer(address string, shutdownTimeout time.Duration, d Deps) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	logger := d.Logger.With("module", "http_server")
	h := &handlers{
		users:     d.Users,
		tokens:    d.Tokens,
		stats:     d.Stats,
		admission: d.Admission,
		probes:    d.Probes,
		pool:      d.Pool,
		metrics:   d.Metrics,
		logger:    logger,
	}

	return &Server{
		address:         address,
		engine:          h.routes(d.Gatherer),
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is done, then drains in-flight
// requests for at most the shutdown timeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
