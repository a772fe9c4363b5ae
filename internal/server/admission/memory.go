package admission

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

const shardCount = 64

// window is the admission log of one key, oldest first.
type window struct {
	mu       sync.Mutex
	stamps   []time.Time
	win      time.Duration
	lastSeen time.Time
	purged   bool
}

// drained reports whether no stamp of w still counts at now.
func (w *window) drained(now time.Time) bool {
	n := len(w.stamps)
	return n == 0 || !w.stamps[n-1].After(now.Add(-w.win))
}

type shard struct {
	mu      sync.RWMutex
	windows map[string]*window
}

// MemoryStore is a process-local CounterStore. Keys are spread over 64
// shards and each key has its own lock, so unrelated identities never
// contend on one mutex.
type MemoryStore struct {
	shards [shardCount]*shard
	clock  timex.Clock
}

func NewMemoryStore(clock timex.Clock) *MemoryStore {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	s := &MemoryStore{clock: clock}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) window(key string) *window {
	sh := s.shardFor(key)

	sh.mu.RLock()
	w, ok := sh.windows[key]
	sh.mu.RUnlock()
	if ok {
		return w
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if w, ok = sh.windows[key]; !ok {
		w = &window{}
		sh.windows[key] = w
	}
	return w
}

func (s *MemoryStore) CheckAndIncrement(_ context.Context, key string, limit int, win time.Duration) (Decision, error) {
	var w *window
	for {
		w = s.window(key)
		w.mu.Lock()
		if !w.purged {
			break
		}
		w.mu.Unlock()
	}
	defer w.mu.Unlock()

	now := s.clock.Now()
	w.lastSeen = now
	w.win = win

	cutoff := now.Add(-win)
	drop := 0
	for drop < len(w.stamps) && !w.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[drop:]...)
	}

	if len(w.stamps) < limit {
		w.stamps = append(w.stamps, now)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - len(w.stamps)}, nil
	}

	retry := win
	if len(w.stamps) > 0 {
		retry = w.stamps[0].Add(win).Sub(now)
	}
	return Decision{Allowed: false, Limit: limit, RetryAfter: retry}, nil
}

// Purge drops keys not seen for longer than idleTTL whose newest stamp has
// also left its window. A key that is idle but still holds live stamps is
// kept, so an idleTTL shorter than a class window never reopens that window.
func (s *MemoryStore) Purge(idleTTL time.Duration) int {
	now := s.clock.Now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			w.mu.Lock()
			idle := now.Sub(w.lastSeen) > idleTTL && w.drained(now)
			if idle {
				w.purged = true
			}
			w.mu.Unlock()
			if idle {
				delete(sh.windows, key)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.windows)
		sh.mu.RUnlock()
	}
	return n
}
