package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// bucket implements a token bucket rate limiter.
type bucket struct {
	capacity   int           // maximum tokens
	available  int           // current tokens
	window     time.Duration // refill window
	lastRefill time.Time     // last refill time
	inFlight   int           // tokens taken and not released
}

// refill adds tokens based on elapsed time since last refill.
// Returns true if tokens were added.
func (b *bucket) refill(now time.Time) bool {
	if b.window == 0 || b.capacity == 0 {
		return false
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return false
	}

	// rate = capacity / window
	tokensToAdd := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if tokensToAdd > 0 {
		b.available += tokensToAdd
		if b.available > b.capacity {
			b.available = b.capacity
		}
		b.lastRefill = now
		return true
	}
	return false
}

// Limiter rate-limits independent keys with one token bucket each.
// It is safe for concurrent use.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time // for testing
}

// New creates a limiter giving every key cfg.Capacity tokens per cfg.Window.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}, nil
}

// bucketFor returns the bucket for key, creating a full one if needed.
// Must be called with lock held.
func (l *Limiter) bucketFor(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			capacity:   l.config.Capacity,
			available:  l.config.Capacity,
			window:     l.config.Window,
			lastRefill: l.nowFunc(),
		}
		l.buckets[key] = b
	}
	return b
}

// Allow takes a token for key if one is available.
// A closed limiter allows nothing.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	b := l.bucketFor(key)
	b.refill(l.nowFunc())
	if b.available > 0 {
		b.available--
		b.inFlight++
		return true
	}
	return false
}

// Release returns a token to key's bucket.
func (l *Limiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	b, ok := l.buckets[key]
	if !ok {
		return
	}
	if b.inFlight > 0 {
		b.inFlight--
	}
	if b.available < b.capacity {
		b.available++
	}
}

// Capacity returns the bucket state for key, or nil if key was never used.
func (l *Limiter) Capacity(key string) *Capacity {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return nil
	}
	b.refill(l.nowFunc())

	return &Capacity{
		Key:       key,
		Available: b.available,
		Total:     b.capacity,
		Window:    b.window,
		InFlight:  b.inFlight,
	}
}

// Reset forgets key; its next use starts with a full bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Keys returns every key with a bucket, sorted.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.buckets))
	for k := range l.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prune drops buckets that have refilled completely. Returns how many were
// removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	removed := 0
	for k, b := range l.buckets {
		b.refill(now)
		if b.available >= b.capacity && b.inFlight == 0 {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Close shuts down the limiter.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.closed = true
	l.buckets = make(map[string]*bucket)
	return nil
}
