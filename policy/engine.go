package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/notify"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// MaxViolations bounds the violation log. Default: 1000
	MaxViolations int

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Tracer defaults to the global tracer.
	Tracer *telemetry.Tracer
}

// EventType identifies an engine notification.
type EventType string

const (
	// EventPolicyError is emitted when a policy's Match or Apply fails.
	EventPolicyError EventType = "policy_error"

	// EventPolicyViolation is emitted when a policy records a violation.
	EventPolicyViolation EventType = "policy_violation"
)

// Event is a notification emitted by an Engine.
type Event struct {
	Type      EventType
	SystemID  string
	PolicyID  string
	MessageID string

	// Err is set for EventPolicyError.
	Err error

	// Violation is set for EventPolicyViolation.
	Violation *Violation

	Time time.Time
}

// Engine evaluates registered policies against every message published on
// its bus.
type Engine struct {
	systemID string
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	events   *notify.Broadcaster[Event]
	pctx     *Context

	mu       sync.RWMutex
	order    []string
	policies map[string]*entry

	unsubscribe func()
	closeOnce   sync.Once
}

type entry struct {
	policy  Policy
	enabled bool
}

// NewEngine creates an engine subscribed to every topic on b. Policies see
// agents through agents, which should be the coordinator's live registry.
func NewEngine(systemID string, b *bus.Bus, agents AgentView, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}

	var queue QueueView
	if b != nil {
		queue = b
	}

	e := &Engine{
		systemID: systemID,
		logger:   logger.WithComponent("policy").WithSystem(systemID),
		tracer:   tracer,
		events:   notify.New[Event](notify.DefaultBuffer),
		pctx:     newContext(systemID, agents, queue, cfg.MaxViolations),
		policies: make(map[string]*entry),
	}
	e.pctx.onViolation = e.violated

	e.unsubscribe = func() {}
	if b != nil {
		e.unsubscribe = b.Subscribe(bus.Wildcard, func(ctx context.Context, msg *bus.Message) error {
			e.Evaluate(ctx, msg)
			return nil
		})
	}
	return e
}

// Register adds a policy. It fails with DUPLICATE_ID if the id is taken.
func (e *Engine) Register(p Policy) error {
	if p == nil || p.ID() == "" {
		return errors.InvalidInput("policy id must not be empty", errors.WithSystemID(e.systemID))
	}
	id := p.ID()

	enabled := true
	if en, ok := p.(Enabler); ok {
		enabled = en.Enabled()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.policies[id]; exists {
		return errors.DuplicateID("policy", id, errors.WithSystemID(e.systemID))
	}
	e.policies[id] = &entry{policy: p, enabled: enabled}
	e.order = append(e.order, id)

	e.logger.Info("policy_registered", map[string]interface{}{
		"policy":   id,
		"priority": p.Priority(),
		"enabled":  enabled,
	})
	return nil
}

// Unregister removes a policy. Unknown ids are ignored.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.policies[id]; !exists {
		return
	}
	delete(e.policies, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
}

// Enable turns a policy on. Unknown ids are ignored.
func (e *Engine) Enable(id string) {
	e.setEnabled(id, true)
}

// Disable turns a policy off. Unknown ids are ignored.
func (e *Engine) Disable(id string) {
	e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.policies[id]; ok {
		ent.enabled = enabled
	}
}

// Policy returns a registered policy.
func (e *Engine) Policy(id string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.policies[id]
	if !ok {
		return nil, false
	}
	return ent.policy, true
}

// Context returns the context shared by this engine's policies.
func (e *Engine) Context() *Context {
	return e.pctx
}

// active returns enabled policies, highest priority first. Equal priorities
// keep registration order.
func (e *Engine) active() []Policy {
	e.mu.RLock()
	out := make([]Policy, 0, len(e.order))
	for _, id := range e.order {
		if ent := e.policies[id]; ent.enabled {
			out = append(out, ent.policy)
		}
	}
	e.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// Evaluate runs every enabled policy against msg. A failing policy is
// reported as EventPolicyError and the remaining policies still run.
// The bus subscription calls this for every published message.
func (e *Engine) Evaluate(ctx context.Context, msg *bus.Message) {
	e.pctx.observeMessage()
	for _, p := range e.active() {
		e.run(ctx, p, msg)
	}
}

func (e *Engine) run(ctx context.Context, p Policy, msg *bus.Message) {
	ctx, span := e.tracer.StartPolicySpan(ctx, p.ID())

	matched := false
	start := time.Now()
	err := errors.Guard("policy "+p.ID(), func() error {
		ok, merr := p.Match(msg, e.pctx)
		if merr != nil {
			return merr
		}
		matched = ok
		if !ok {
			return nil
		}
		return p.Apply(ctx, msg, e.pctx)
	}, errors.WithSystemID(e.systemID), errors.WithMessageID(msg.ID), errors.WithMetadata("policy", p.ID()))

	e.pctx.observeEvaluation(matched, err != nil, time.Since(start))
	e.tracer.EndPolicySpan(span, telemetry.PolicySpanOptions{
		PolicyID:  p.ID(),
		MessageID: msg.ID,
		Priority:  p.Priority(),
		Matched:   matched,
	}, err)

	if err != nil {
		e.logger.PolicyFailure(p.ID(), msg.ID, err)
		e.events.Emit(Event{
			Type:      EventPolicyError,
			SystemID:  e.systemID,
			PolicyID:  p.ID(),
			MessageID: msg.ID,
			Err:       err,
			Time:      time.Now(),
		})
	}
}

func (e *Engine) violated(v Violation) {
	e.logger.PolicyViolation(v.PolicyID, v.MessageID, v.Reason)
	e.events.Emit(Event{
		Type:      EventPolicyViolation,
		SystemID:  e.systemID,
		PolicyID:  v.PolicyID,
		MessageID: v.MessageID,
		Violation: &v,
		Time:      v.Time,
	})
}

// Status returns policy counts, per-policy info in registration order and
// the context counters.
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		Total:    len(e.order),
		Policies: make([]PolicyInfo, 0, len(e.order)),
	}
	for _, id := range e.order {
		ent := e.policies[id]
		if ent.enabled {
			st.Enabled++
		}
		st.Policies = append(st.Policies, PolicyInfo{
			ID:       id,
			Name:     ent.policy.Name(),
			Priority: ent.policy.Priority(),
			Enabled:  ent.enabled,
		})
	}
	e.mu.RUnlock()

	st.Counters = e.pctx.Counters()
	st.Violations = e.pctx.Violations()
	return st
}

// Watch returns a channel of engine notifications and a cancel function.
func (e *Engine) Watch() (<-chan Event, func()) {
	return e.events.Watch()
}

// Close unsubscribes from the bus and closes watcher channels.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.unsubscribe()
		e.events.Close()
	})
	return nil
}
