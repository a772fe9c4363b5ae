package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
)

// Controller applies class policies to identities over a CounterStore.
type Controller struct {
	store           CounterStore
	policies        atomic.Pointer[Policies]
	failClosedRetry time.Duration
	logger          logging.Logger
	metrics         *metrics.Metrics
}

// NewController builds a controller. failClosedRetry is the retry hint sent
// when a fail-closed class is rejected because the store is unavailable.
func NewController(store CounterStore, policies Policies, failClosedRetry time.Duration, logger logging.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	if failClosedRetry <= 0 {
		failClosedRetry = 5 * time.Second
	}
	c := &Controller{
		store:           store,
		failClosedRetry: failClosedRetry,
		logger:          logger.With("module", "admission"),
		metrics:         m,
	}
	c.UpdatePolicies(policies)
	return c
}

// UpdatePolicies swaps the class table. In-flight checks finish with the
// table they started with.
func (c *Controller) UpdatePolicies(p Policies) {
	cp := make(Policies, len(p))
	for k, v := range p {
		cp[k] = v
	}
	c.policies.Store(&cp)
}

// Policy returns the policy in force for class, after fallback to ClassAPI.
func (c *Controller) Policy(class Class) (Class, Policy) {
	return c.policies.Load().lookup(class)
}

// Key is the counter key of identity within class.
func Key(identity string, class Class) string {
	return string(class) + ":" + identity
}

// Check records an attempt by identity against class. A rejection returns
// the decision together with a *common.RateLimitError. Admitted attempts are
// never rolled back.
func (c *Controller) Check(ctx context.Context, identity string, class Class) (Decision, error) {
	class, pol := c.Policy(class)

	d, err := c.store.CheckAndIncrement(ctx, Key(identity, class), pol.Limit, pol.Window)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		c.metrics.AdmissionStoreError(string(class), pol.FailOpen)
		if pol.FailOpen {
			c.logger.Warn(ctx, "counter store unavailable, admitting", "class", class, "error", err)
			c.metrics.AdmissionDecision(string(class), true)
			return Decision{Allowed: true, Limit: pol.Limit, Remaining: pol.Limit}, nil
		}
		c.logger.Warn(ctx, "counter store unavailable, rejecting", "class", class, "error", err)
		c.metrics.AdmissionDecision(string(class), false)
		d = Decision{Allowed: false, Limit: pol.Limit, RetryAfter: c.failClosedRetry}
		return d, &common.RateLimitError{RetryAfter: d.RetryAfter}
	}

	c.metrics.AdmissionDecision(string(class), d.Allowed)
	if !d.Allowed {
		c.logger.Debug(ctx, "admission rejected", "class", class, "identity", identity, "retry_after", d.RetryAfter)
		return d, &common.RateLimitError{RetryAfter: d.RetryAfter}
	}
	return d, nil
}

// RunJanitor purges idle keys every interval until ctx is done. Stores that
// keep no local state are left alone.
func (c *Controller) RunJanitor(ctx context.Context, interval, idleTTL time.Duration) {
	p, ok := c.store.(Purger)
	if !ok || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Purge(idleTTL); n > 0 {
				c.logger.Debug(ctx, "idle admission keys purged", "count", n)
			}
		}
	}
}
