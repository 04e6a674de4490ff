// Package notify provides per-instance typed notification channels.
//
// Every bus, coordinator and policy engine owns its own Broadcaster, so
// notifications never leak between coordination systems. Delivery is
// non-blocking: a watcher whose buffer is full misses the event and the
// broadcaster counts it as dropped.
package notify

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity used when none is given.
const DefaultBuffer = 64

// Broadcaster fans events of type E out to any number of watchers.
type Broadcaster[E any] struct {
	mu       sync.Mutex
	watchers map[uint64]chan E
	nextID   uint64
	buffer   int
	closed   bool
	dropped  atomic.Uint64
}

// New creates a broadcaster whose watcher channels hold buffer events.
func New[E any](buffer int) *Broadcaster[E] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[E]{
		watchers: make(map[uint64]chan E),
		buffer:   buffer,
	}
}

// Watch returns a channel of future events and a cancel function that
// removes the watcher and closes its channel. Cancel is idempotent.
// Watching a closed broadcaster yields an already-closed channel.
func (b *Broadcaster[E]) Watch() (<-chan E, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan E, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if w, ok := b.watchers[id]; ok {
				delete(b.watchers, id)
				close(w)
			}
		})
	}
	return ch, cancel
}

// Emit delivers e to every watcher without blocking.
func (b *Broadcaster[E]) Emit(e E) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.watchers {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Watchers returns the number of active watchers.
func (b *Broadcaster[E]) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// Dropped returns how many deliveries were skipped because a watcher was full.
func (b *Broadcaster[E]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every watcher channel. Later Emits are ignored.
func (b *Broadcaster[E]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.watchers {
		close(ch)
		delete(b.watchers, id)
	}
}
