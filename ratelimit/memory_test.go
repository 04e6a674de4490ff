package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, capacity int, window time.Duration) (*Limiter, *fakeClock) {
	t.Helper()
	l, err := New(Config{Capacity: capacity, Window: window})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.nowFunc = clock.Now
	return l, clock
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"valid", Config{Capacity: 1, Window: time.Second}, nil},
		{"zero capacity", Config{Capacity: 0, Window: time.Second}, ErrInvalidCapacity},
		{"zero window", Config{Capacity: 1}, ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Validate(); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := New(Config{}); err == nil {
		t.Error("New should reject an invalid config")
	}
}

func TestLimiter_Allow(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		if !l.Allow("u1") {
			t.Errorf("expected Allow to succeed on attempt %d", i+1)
		}
	}
	if l.Allow("u1") {
		t.Error("expected Allow to fail after exhausting capacity")
	}

	cap := l.Capacity("u1")
	if cap.Available != 0 {
		t.Errorf("expected available 0, got %d", cap.Available)
	}
	if cap.InFlight != 3 {
		t.Errorf("expected inFlight 3, got %d", cap.InFlight)
	}
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	defer l.Close()

	if !l.Allow("u1") || !l.Allow("u2") {
		t.Error("each key should start with a full bucket")
	}
	if l.Allow("u1") {
		t.Error("u1 should be exhausted")
	}
	if got := l.Keys(); len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("Keys() = %v, want [u1 u2]", got)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l, clock := newTestLimiter(t, 4, time.Minute)
	defer l.Close()

	for i := 0; i < 4; i++ {
		l.Allow("u1")
	}
	if l.Allow("u1") {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(30 * time.Second)
	if got := l.Capacity("u1").Available; got != 2 {
		t.Errorf("after half a window available = %d, want 2", got)
	}

	clock.Advance(10 * time.Minute)
	if got := l.Capacity("u1").Available; got != 4 {
		t.Errorf("refill should cap at capacity, got %d", got)
	}
}

func TestLimiter_Release(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute)
	defer l.Close()

	l.Allow("u1")
	l.Allow("u1")
	l.Release("u1")

	cap := l.Capacity("u1")
	if cap.Available != 1 || cap.InFlight != 1 {
		t.Errorf("available/inFlight = %d/%d, want 1/1", cap.Available, cap.InFlight)
	}

	// Unknown keys are ignored.
	l.Release("nobody")
	if l.Capacity("nobody") != nil {
		t.Error("Release must not create buckets")
	}
}

func TestLimiter_ResetAndPrune(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute)
	defer l.Close()

	l.Allow("u1")
	l.Allow("u2")
	l.Release("u2")

	l.Reset("u1")
	if l.Capacity("u1") != nil {
		t.Error("Reset should forget the key")
	}

	l.Allow("u3")
	clock.Advance(time.Minute)
	l.Release("u3")
	if removed := l.Prune(); removed != 2 {
		t.Errorf("Prune() = %d, want 2", removed)
	}
	if len(l.Keys()) != 0 {
		t.Errorf("Keys() = %v after prune", l.Keys())
	}
}

func TestLimiter_Close(t *testing.T) {
	l, _ := newTestLimiter(t, 5, time.Minute)

	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if l.Allow("u1") {
		t.Error("closed limiter should deny")
	}
	if err := l.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, 100, time.Hour)
	defer l.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want 100", allowed)
	}
}
