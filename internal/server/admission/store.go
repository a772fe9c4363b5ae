package admission

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// CounterStore records an attempt against key if fewer than limit attempts
// fall inside the trailing window. Check and increment are one atomic step.
type CounterStore interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Purger is implemented by stores that keep idle keys in process memory.
type Purger interface {
	Purge(idleTTL time.Duration) int
}
