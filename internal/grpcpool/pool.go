// Package grpcpool keeps a bounded set of health-checked outbound
// connections. Callers borrow a connection with Acquire and give it back
// with Release, or let Do manage both.
package grpcpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
)

// Handle is one live connection.
type Handle interface {
	// Probe returns nil when the connection can serve calls.
	Probe(ctx context.Context) error
	Close() error
}

// Factory opens new connections.
type Factory[H Handle] interface {
	Connect(ctx context.Context) (H, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc[H Handle] func(ctx context.Context) (H, error)

func (f FactoryFunc[H]) Connect(ctx context.Context) (H, error) { return f(ctx) }

type State int32

const (
	StateHealthy State = iota
	StateUnhealthy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is a pooled connection. Its mutable fields are guarded by the
// owning pool's lock.
type Conn[H Handle] struct {
	ID        string
	Handle    H
	CreatedAt time.Time

	lastUsedAt time.Time
	state      State
	out        atomic.Bool
}

// Options tune a Pool. Zero values take the defaults noted.
type Options struct {
	MaxConnections      int           // default 10
	AcquireTimeout      time.Duration // used when ctx has no deadline; default 5s
	HealthCheckInterval time.Duration // default 60s
	ProbeTimeout        time.Duration // default 5s
	MaxConnAge          time.Duration // 0 disables age eviction
	DialAttempts        int           // default 3
	DialBackoff         time.Duration // default 100ms
	CallAttempts        int           // default 2

	// IsConnError reports call errors that condemn the connection.
	// Default: gRPC Unavailable.
	IsConnError func(error) bool

	Clock  timex.Clock
	Logger logging.Logger
}

func (o *Options) withDefaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 60 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = 3
	}
	if o.DialBackoff <= 0 {
		o.DialBackoff = 100 * time.Millisecond
	}
	if o.CallAttempts <= 0 {
		o.CallAttempts = 2
	}
	if o.IsConnError == nil {
		o.IsConnError = IsUnavailable
	}
	if o.Clock == nil {
		o.Clock = timex.SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// Metrics is a point-in-time view of a pool.
type Metrics struct {
	Total               int
	Active              int
	Available           int
	Healthy             int
	Max                 int
	ConnectionErrors    uint64
	HealthCheckFailures uint64
	LastHealthCheck     time.Time
}

// Pool bounds concurrently checked-out connections with a FIFO semaphore.
// Active plus available connections never exceed MaxConnections: a new
// connection is only opened when no idle one is left.
type Pool[H Handle] struct {
	factory Factory[H]
	opts    Options
	logger  logging.Logger
	sem     *semaphore.Weighted

	mu              sync.RWMutex
	idle            []*Conn[H]
	active          map[string]*Conn[H]
	closed          bool
	lastHealthCheck time.Time

	connErrors     atomic.Uint64
	healthFailures atomic.Uint64

	closing   context.Context
	close     context.CancelFunc
	force     chan struct{}
	startOnce sync.Once
	loopDone  chan struct{}
}

func New[H Handle](factory Factory[H], opts Options) *Pool[H] {
	opts.withDefaults()
	closing, cancel := context.WithCancel(context.Background())
	return &Pool[H]{
		factory: factory,
		opts:    opts,
		logger:  opts.Logger.With("module", "grpcpool"),
		sem:     semaphore.NewWeighted(int64(opts.MaxConnections)),
		active:  make(map[string]*Conn[H]),
		closing: closing,
		close:   cancel,
		force:   make(chan struct{}, 1),
	}
}

// Acquire borrows a healthy connection, opening one if none is idle and
// the pool has room. When the pool is saturated it waits in FIFO order
// until a release, the deadline (common.ErrPoolTimeout) or Close
// (common.ErrPoolClosed).
func (p *Pool[H]) Acquire(ctx context.Context) (*Conn[H], error) {
	if p.closing.Err() != nil {
		return nil, common.ErrPoolClosed
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}
	waitCtx, cancelWait := context.WithCancel(waitCtx)
	defer cancelWait()
	stop := context.AfterFunc(p.closing, cancelWait)
	defer stop()

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		switch {
		case p.closing.Err() != nil:
			return nil, common.ErrPoolClosed
		case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("%w: waited for a free connection", common.ErrPoolTimeout)
		}
	}

	c, err := p.checkout(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	c.out.Store(true)
	return c, nil
}

func (p *Pool[H]) checkout(ctx context.Context) (*Conn[H], error) {
	now := p.opts.Clock.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, common.ErrPoolClosed
	}
	var stale []*Conn[H]
	for len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		if c.state != StateHealthy || p.aged(c, now) {
			c.state = StateClosed
			stale = append(stale, c)
			continue
		}
		c.lastUsedAt = now
		p.active[c.ID] = c
		p.mu.Unlock()
		p.closeAll(stale)
		return c, nil
	}
	p.mu.Unlock()
	p.closeAll(stale)

	c, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeAll([]*Conn[H]{c})
		return nil, common.ErrPoolClosed
	}
	p.active[c.ID] = c
	p.mu.Unlock()
	return c, nil
}

// dial opens a connection, retrying with exponential backoff.
func (p *Pool[H]) dial(ctx context.Context) (*Conn[H], error) {
	backoff := retry.WithMaxRetries(uint64(p.opts.DialAttempts-1), retry.NewExponential(p.opts.DialBackoff))

	var (
		h    H
		last error
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		h, err = p.factory.Connect(ctx)
		if err != nil {
			p.connErrors.Add(1)
			last = err
			p.logger.Warn(ctx, "connection attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", common.ErrTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", common.ErrConnectionFailed, last)
	}

	now := p.opts.Clock.Now()
	c := &Conn[H]{ID: uuid.NewString(), Handle: h, CreatedAt: now, lastUsedAt: now}
	p.logger.Debug(ctx, "connection opened", "conn_id", c.ID)
	return c, nil
}

// Release returns c to the pool. It is safe to call more than once per
// checkout and on every exit path; connections that are unhealthy, too old
// or belong to a closed pool are closed instead of kept.
func (p *Pool[H]) Release(c *Conn[H]) {
	if c == nil || !c.out.CompareAndSwap(true, false) {
		return
	}
	now := p.opts.Clock.Now()

	p.mu.Lock()
	delete(p.active, c.ID)
	evict := p.closed || c.state != StateHealthy || p.aged(c, now)
	if evict {
		c.state = StateClosed
	} else {
		c.lastUsedAt = now
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	p.sem.Release(1)
	if evict {
		p.closeAll([]*Conn[H]{c})
	}
}

// Discard marks c unhealthy and releases it, closing the connection.
func (p *Pool[H]) Discard(c *Conn[H]) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if c.state == StateHealthy {
		c.state = StateUnhealthy
	}
	p.mu.Unlock()
	p.Release(c)
}

// Do runs fn on a pooled connection and releases it on every path. When fn
// fails with a connection error the connection is discarded and fn is
// retried on a fresh one, up to CallAttempts calls in total.
func (p *Pool[H]) Do(ctx context.Context, fn func(ctx context.Context, h H) error) error {
	var err error
	for i := 0; i < p.opts.CallAttempts; i++ {
		var again bool
		again, err = p.attempt(ctx, fn)
		if !again || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (p *Pool[H]) attempt(ctx context.Context, fn func(ctx context.Context, h H) error) (again bool, err error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if again {
			p.Discard(c)
		} else {
			p.Release(c)
		}
	}()

	err = fn(ctx, c.Handle)
	again = err != nil && p.opts.IsConnError(err)
	return again, err
}

func (p *Pool[H]) aged(c *Conn[H], now time.Time) bool {
	return p.opts.MaxConnAge > 0 && now.Sub(c.CreatedAt) > p.opts.MaxConnAge
}

func (p *Pool[H]) closeAll(conns []*Conn[H]) {
	for _, c := range conns {
		if err := c.Handle.Close(); err != nil {
			p.logger.Debug(context.Background(), "closing connection", "conn_id", c.ID, "error", err)
		}
	}
}

// Metrics returns a snapshot taken under the read lock.
func (p *Pool[H]) Metrics() Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m := Metrics{
		Active:              len(p.active),
		Available:           len(p.idle),
		Max:                 p.opts.MaxConnections,
		ConnectionErrors:    p.connErrors.Load(),
		HealthCheckFailures: p.healthFailures.Load(),
		LastHealthCheck:     p.lastHealthCheck,
	}
	m.Total = m.Active + m.Available
	for _, c := range p.idle {
		if c.state == StateHealthy {
			m.Healthy++
		}
	}
	for _, c := range p.active {
		if c.state == StateHealthy {
			m.Healthy++
		}
	}
	return m
}

// Close stops the health loop and closes idle connections. Connections
// still checked out are closed when released; waiting Acquire calls fail
// with common.ErrPoolClosed.
func (p *Pool[H]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	done := p.loopDone
	idle := p.idle
	p.idle = nil
	for _, c := range idle {
		c.state = StateClosed
	}
	p.mu.Unlock()

	p.close()
	if done != nil {
		<-done
	}

	var errs []error
	for _, c := range idle {
		if err := c.Handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
