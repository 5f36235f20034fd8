package taostatstest

import (
	"sync"
	"time"
)

// rateLimiter allows limit hits per key within a sliding window.
type rateLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	limit int
	win   time.Duration
	now   func() time.Time
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(key)
	if len(r.hits[key]) >= r.limit {
		return false
	}
	r.hits[key] = append(r.hits[key], r.now())
	return true
}

// prune removes timestamps older than the window to keep the map bounded.
func (r *rateLimiter) prune(key string) {
	cutoff := r.now().Add(-r.win)
	var valid []time.Time
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.hits, key)
	} else {
		r.hits[key] = valid
	}
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock { return &Clock{now: time.Unix(1_700_000_000, 0)} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Timer satisfies backoff.Timer without sleeping. Each Start records the
// requested wait, advances Clock (if set) by that much and fires at once.
type Timer struct {
	Clock *Clock

	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.mu.Unlock()

	if t.Clock != nil {
		t.Clock.Advance(d)
	}
	t.c <- time.Time{}
}

func (t *Timer) Stop() {}

func (t *Timer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

// Waits returns every duration passed to Start.
func (t *Timer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
