package grpcpool

import (
	"context"
	"sync"
	"time"
)

// Start runs the health loop until ctx is done or the pool is closed.
// Calling it again has no effect.
func (p *Pool[H]) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		done := make(chan struct{})
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.loopDone = done
		p.mu.Unlock()

		go func() {
			defer close(done)
			p.healthLoop(ctx)
		}()
	})
}

func (p *Pool[H]) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closing.Done():
			return
		case <-ticker.C:
		case <-p.force:
		}
		p.HealthCheck(ctx)
	}
}

// ForceHealthCheck asks the health loop to run a check now instead of
// waiting for the next tick. It does not block.
func (p *Pool[H]) ForceHealthCheck() {
	select {
	case p.force <- struct{}{}:
	default:
	}
}

// HealthCheck probes every idle connection outside the pool lock and
// evicts those that fail or exceed MaxConnAge. Checked-out connections past
// their age are marked unhealthy and closed on release. It returns the
// number of evicted connections. Failures are counted, never returned.
func (p *Pool[H]) HealthCheck(ctx context.Context) int {
	now := p.opts.Clock.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	idle := make([]*Conn[H], len(p.idle))
	copy(idle, p.idle)
	for _, c := range p.active {
		if p.aged(c, now) && c.state == StateHealthy {
			c.state = StateUnhealthy
		}
	}
	p.mu.Unlock()

	failed := make(map[*Conn[H]]bool, len(idle))
	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for _, c := range idle {
		if p.aged(c, now) {
			resMu.Lock()
			failed[c] = true
			resMu.Unlock()
			continue
		}
		wg.Add(1)
		go func(c *Conn[H]) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
			defer cancel()
			if err := c.Handle.Probe(pctx); err != nil {
				p.healthFailures.Add(1)
				p.logger.Warn(ctx, "connection failed health check", "conn_id", c.ID, "error", err)
				resMu.Lock()
				failed[c] = true
				resMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	p.mu.Lock()
	var evicted []*Conn[H]
	kept := p.idle[:0]
	for _, c := range p.idle {
		if failed[c] {
			c.state = StateClosed
			evicted = append(evicted, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	for _, c := range p.active {
		if failed[c] && c.state == StateHealthy {
			c.state = StateUnhealthy
		}
	}
	p.lastHealthCheck = p.opts.Clock.Now()
	p.mu.Unlock()

	p.closeAll(evicted)
	if len(evicted) > 0 {
		p.logger.Info(ctx, "evicted pooled connections", "count", len(evicted))
	}
	return len(evicted)
}
