package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/sony/gobreaker"
)

// BreakerStore stops calling a failing store for a while, so that an
// unreachable backend costs one fast error per request instead of a
// network timeout.
type BreakerStore struct {
	inner CounterStore
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore opens after failures consecutive errors and probes again
// after openTimeout.
func NewBreakerStore(inner CounterStore, failures uint32, openTimeout time.Duration, logger logging.Logger) *BreakerStore {
	if failures == 0 {
		failures = 5
	}
	if logger == nil {
		logger = logging.Nop()
	}
	settings := gobreaker.Settings{
		Name:        "admission-store",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerStore) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.CheckAndIncrement(ctx, key, limit, window)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return Decision{}, fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return res.(Decision), nil
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// Purge forwards to the wrapped store when it keeps local state.
func (b *BreakerStore) Purge(idleTTL time.Duration) int {
	if p, ok := b.inner.(Purger); ok {
		return p.Purge(idleTTL)
	}
	return 0
}
