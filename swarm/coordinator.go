package swarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/notify"
	"github.com/vinayprograms/swarmkit/registry"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// Coordinator owns a set of agents and periodically dispatches the bus's
// pending queue to them. Delivery is at most once: every tick drains the
// queue, and messages that cannot be routed or fail are not retried.
type Coordinator struct {
	systemID string
	bus      *bus.Bus
	agents   *registry.Registry
	config   Config
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	events   *notify.Broadcaster[Event]
	created  time.Time

	// lifeMu guards Start/Stop transitions.
	lifeMu  sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}

	// tickMu keeps ticks from overlapping.
	tickMu sync.Mutex

	statsMu      sync.Mutex
	processed    int64
	failed       int64
	unrouted     int64
	ticks        int64
	totalLatency time.Duration
}

// New creates a coordinator that drains b.
func New(systemID string, b *bus.Bus, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}

	return &Coordinator{
		systemID: systemID,
		bus:      b,
		agents:   registry.New(),
		config:   cfg,
		logger:   logger.WithComponent("swarm").WithSystem(systemID),
		tracer:   tracer,
		events:   notify.New[Event](notify.DefaultBuffer),
		created:  time.Now(),
	}
}

// SystemID returns the id of the system this coordinator belongs to.
func (c *Coordinator) SystemID() string {
	return c.systemID
}

// RegisterAgent adds an agent. It fails with DUPLICATE_ID when the id is
// already registered; the existing agent is left untouched.
func (c *Coordinator) RegisterAgent(agent registry.Agent) error {
	if err := c.agents.Register(agent); err != nil {
		return err
	}

	c.logger.AgentRegistered(agent.ID(), agent.Capabilities())
	c.events.Emit(Event{
		Type:     EventAgentRegistered,
		SystemID: c.systemID,
		AgentID:  agent.ID(),
		Time:     time.Now(),
	})
	return nil
}

// UnregisterAgent removes an agent. Unknown ids are ignored.
func (c *Coordinator) UnregisterAgent(id string) {
	if !c.agents.Deregister(id) {
		return
	}
	c.logger.AgentUnregistered(id)
	c.events.Emit(Event{
		Type:     EventAgentUnregistered,
		SystemID: c.systemID,
		AgentID:  id,
		Time:     time.Now(),
	})
}

// Agent returns a registered agent.
func (c *Coordinator) Agent(id string) (registry.Agent, bool) {
	return c.agents.Get(id)
}

// Agents returns the registered agents in registration order.
func (c *Coordinator) Agents() []registry.Agent {
	return c.agents.Agents()
}

// Registry returns the live agent registry. Readers see registrations as
// they happen; it must not be used to register agents directly.
func (c *Coordinator) Registry() *registry.Registry {
	return c.agents
}

// Start begins ticking every interval, or Config.Interval when interval is
// not positive. Calling Start while running logs and does nothing.
func (c *Coordinator) Start(interval time.Duration) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.running.Load() {
		c.logger.Warn("already_running")
		return
	}
	if interval <= 0 {
		interval = c.config.Interval
	}

	c.stopCh = make(chan struct{})
	c.running.Store(true)
	go c.run(interval, c.stopCh)

	c.logger.Info("started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// run is the tick loop.
func (c *Coordinator) run(interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.Tick(context.Background())
		}
	}
}

// Stop halts future ticks. A tick already in progress runs to completion.
// Stop is safe to call repeatedly, including from inside an agent.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if !c.running.Swap(false) {
		return
	}
	close(c.stopCh)
	c.logger.Info("stopped")
}

// Running reports whether the tick loop is active.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Tick runs one drain-and-dispatch cycle. The pending queue is taken and
// cleared in one step, then each message is dispatched in publish order.
func (c *Coordinator) Tick(ctx context.Context) TickResult {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	ctx, span := c.tracer.StartTickSpan(ctx)

	msgs := c.bus.Drain()
	result := TickResult{Messages: len(msgs)}
	for _, msg := range msgs {
		switch c.dispatch(ctx, msg) {
		case outcomeProcessed:
			result.Processed++
		case outcomeFailed:
			result.Failed++
		case outcomeUnrouted:
			result.Unrouted++
		}
	}

	c.statsMu.Lock()
	c.ticks++
	c.statsMu.Unlock()

	c.tracer.EndTickSpan(span, telemetry.TickSpanOptions{
		SystemID:  c.systemID,
		Messages:  result.Messages,
		Processed: result.Processed,
		Failed:    result.Failed,
		Unrouted:  result.Unrouted,
	})
	return result
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeUnrouted
)

// route picks the target agent: the explicit recipient if set, otherwise the
// first-registered agent whose capabilities include the message type.
func (c *Coordinator) route(msg *bus.Message) (registry.Agent, string) {
	if msg.Recipient != "" {
		if agent, ok := c.agents.Get(msg.Recipient); ok {
			return agent, ""
		}
		return nil, fmt.Sprintf("recipient %q not registered", msg.Recipient)
	}
	if agent, ok := c.agents.FindByCapability(msg.Type); ok {
		return agent, ""
	}
	return nil, fmt.Sprintf("no agent with capability %q", msg.Type)
}

func (c *Coordinator) dispatch(ctx context.Context, msg *bus.Message) outcome {
	ctx, span := c.tracer.StartDispatchSpan(ctx, msg.Metadata)

	agent, reason := c.route(msg)
	if agent == nil {
		err := errors.RoutingFailure(msg.ID, reason, errors.WithSystemID(c.systemID))
		c.logger.Unrouted(msg.ID, msg.Type, reason)

		c.statsMu.Lock()
		c.unrouted++
		c.statsMu.Unlock()

		c.events.Emit(Event{
			Type:     EventMessageUnrouted,
			SystemID: c.systemID,
			Message:  msg,
			Err:      err,
			Time:     time.Now(),
		})
		c.tracer.EndDispatchSpan(span, telemetry.DispatchSpanOptions{
			MessageID: msg.ID,
			Type:      msg.Type,
			Reason:    reason,
		}, nil)
		return outcomeUnrouted
	}

	setStatus(agent, registry.StatusBusy)

	var resp *bus.Message
	start := time.Now()
	err := errors.Guard("agent "+agent.ID(), func() error {
		var perr error
		resp, perr = agent.Process(ctx, msg)
		return perr
	}, errors.WithSystemID(c.systemID), errors.WithAgentID(agent.ID()), errors.WithMessageID(msg.ID))
	latency := time.Since(start)

	c.logger.Dispatch(agent.ID(), msg.ID, latency, err)
	c.tracer.EndDispatchSpan(span, telemetry.DispatchSpanOptions{
		AgentID:   agent.ID(),
		MessageID: msg.ID,
		Type:      msg.Type,
		Routed:    true,
	}, err)

	ev := Event{
		SystemID: c.systemID,
		AgentID:  agent.ID(),
		Message:  msg,
		Latency:  latency,
		Time:     time.Now(),
	}

	if err != nil {
		setStatus(agent, registry.StatusError)
		c.statsMu.Lock()
		c.failed++
		c.statsMu.Unlock()

		ev.Type = EventMessageFailed
		ev.Err = err
		c.events.Emit(ev)
		return outcomeFailed
	}

	setStatus(agent, registry.StatusIdle)
	c.statsMu.Lock()
	c.processed++
	c.totalLatency += latency
	c.statsMu.Unlock()

	ev.Type = EventMessageProcessed
	ev.Response = resp
	c.events.Emit(ev)
	return outcomeProcessed
}

func setStatus(agent registry.Agent, s registry.Status) {
	if setter, ok := agent.(registry.StatusSetter); ok {
		setter.SetStatus(s)
	}
}

// Metrics returns current counters. SuccessRate is processed/(processed+failed),
// or 0 before anything was dispatched. AverageLatency covers successful
// dispatches.
func (c *Coordinator) Metrics() Metrics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	m := Metrics{
		AgentCount:        c.agents.Len(),
		Running:           c.running.Load(),
		ProcessedMessages: c.processed,
		FailedMessages:    c.failed,
		UnroutedMessages:  c.unrouted,
		Ticks:             c.ticks,
		Uptime:            time.Since(c.created),
	}
	if total := c.processed + c.failed; total > 0 {
		m.SuccessRate = float64(c.processed) / float64(total)
	}
	if c.processed > 0 {
		m.AverageLatency = c.totalLatency / time.Duration(c.processed)
	}
	return m
}

// Watch returns a channel of coordinator notifications and a cancel function.
func (c *Coordinator) Watch() (<-chan Event, func()) {
	return c.events.Watch()
}

// Close stops ticking, removes every agent and closes watcher channels.
func (c *Coordinator) Close() error {
	c.Stop()
	c.agents.Close()
	c.events.Close()
	return nil
}
