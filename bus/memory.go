package bus

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/notify"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// Bus is an in-memory publish/subscribe bus with a pending queue and a
// bounded history. It is safe for concurrent use.
type Bus struct {
	config Config
	logger *logging.Logger
	tracer *telemetry.Tracer
	events *notify.Broadcaster[Event]

	mu      sync.Mutex
	subs    map[string][]*subscription
	queue   []*Message
	history *ring
	nextSub uint64
	closed  atomic.Bool
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
}

// New creates a bus.
func New(cfg Config) *Bus {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}

	return &Bus{
		config:  cfg,
		logger:  logger.WithComponent("bus"),
		tracer:  tracer,
		events:  notify.New[Event](notify.DefaultBuffer),
		subs:    make(map[string][]*subscription),
		history: newRing(cfg.HistoryCapacity),
	}
}

// Publish stores a message and delivers it to subscribers.
//
// Missing ID, Timestamp and Priority are filled in. The stored message is a
// deep copy of msg and is returned; it must not be modified. Exact-topic
// subscribers run before wildcard subscribers, each in registration order,
// on the caller's goroutine. A failing subscriber is reported through Watch
// and does not affect the others or the returned error.
func (b *Bus) Publish(ctx context.Context, msg Message) (*Message, error) {
	if err := ValidateTopic(msg.Type); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	stored := msg.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	if stored.Priority == "" {
		stored.Priority = PriorityNormal
	}

	ctx, span := b.tracer.StartPublishSpan(ctx, stored.Type)
	carrier := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	if len(carrier) > 0 {
		if stored.Metadata == nil {
			stored.Metadata = make(map[string]string, len(carrier))
		}
		for k, v := range carrier {
			stored.Metadata[k] = v
		}
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		b.tracer.EndPublishSpan(span, spanOptions(stored, 0, 0), ErrClosed)
		return nil, ErrClosed
	}
	b.queue = append(b.queue, stored)
	b.history.push(stored)
	targets := make([]*subscription, 0, len(b.subs[stored.Type])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[stored.Type]...)
	targets = append(targets, b.subs[Wildcard]...)
	b.mu.Unlock()

	failures := 0
	for _, sub := range targets {
		if err := b.deliver(ctx, sub, stored); err != nil {
			failures++
		}
	}

	b.tracer.EndPublishSpan(span, spanOptions(stored, len(targets), failures), nil)
	return stored, nil
}

// deliver runs one handler, converting errors and panics into a notification.
func (b *Bus) deliver(ctx context.Context, sub *subscription, msg *Message) error {
	err := errors.Guard("subscriber "+sub.topic, func() error {
		return sub.handler(ctx, msg)
	}, errors.WithMessageID(msg.ID))
	if err == nil {
		return nil
	}

	b.logger.SubscriberFailure(sub.topic, msg.ID, err)
	b.events.Emit(Event{
		Type:      EventSubscriberFailed,
		Topic:     sub.topic,
		MessageID: msg.ID,
		Err:       err,
		Time:      time.Now(),
	})
	return err
}

// spanOptions builds span attributes for a published message.
func spanOptions(msg *Message, subscribers, failures int) telemetry.PublishSpanOptions {
	keys := make([]string, 0, len(msg.Payload))
	for k := range msg.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return telemetry.PublishSpanOptions{
		MessageID:   msg.ID,
		Type:        msg.Type,
		Sender:      msg.Sender,
		Recipient:   msg.Recipient,
		Priority:    string(msg.Priority),
		Subscribers: subscribers,
		Failures:    failures,
		PayloadKeys: keys,
	}
}

// Subscribe registers handler for topic. Use Wildcard to receive every
// message. The returned function removes exactly this registration; calling
// it more than once is harmless.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	if topic == "" || handler == nil || b.closed.Load() {
		return func() {}
	}

	b.mu.Lock()
	b.nextSub++
	sub := &subscription{id: b.nextSub, topic: topic, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub) })
	}
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			// Copy so an in-flight Publish keeps its own snapshot intact.
			remaining := make([]*subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			if len(remaining) == 0 {
				delete(b.subs, sub.topic)
			} else {
				b.subs[sub.topic] = remaining
			}
			return
		}
	}
}

// Queue returns a snapshot of the pending queue in publish order.
func (b *Bus) Queue() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.queue...)
}

// QueueLen returns the number of pending messages.
func (b *Bus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// ClearQueue empties the pending queue. History is unaffected.
func (b *Bus) ClearQueue() {
	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
}

// Drain returns the pending queue and empties it in one step. Messages
// published after Drain returns stay queued for the next call.
func (b *Bus) Drain() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}

// History returns up to limit of the most recent messages, oldest first.
// A limit of zero or less returns the whole history.
func (b *Bus) History(limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.last(limit)
}

// Statistics returns queue and history sizes and the number of topics with
// at least one subscriber.
func (b *Bus) Statistics() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		QueueSize:        len(b.queue),
		HistorySize:      b.history.len(),
		SubscriberTopics: len(b.subs),
	}
}

// Watch returns a channel of bus notifications and a cancel function.
func (b *Bus) Watch() (<-chan Event, func()) {
	return b.events.Watch()
}

// Close drops all subscribers, the queue and the history. Publishing after
// Close returns ErrClosed.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	b.subs = make(map[string][]*subscription)
	b.queue = nil
	b.history = newRing(b.config.HistoryCapacity)
	b.mu.Unlock()

	b.events.Close()
	return nil
}

// ring is a fixed-capacity FIFO of messages.
type ring struct {
	buf   []*Message
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*Message, capacity)}
}

func (r *ring) push(m *Message) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = m
		r.count++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.count
}

// last returns the newest n entries, oldest first.
func (r *ring) last(n int) []*Message {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]*Message, n)
	offset := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}
