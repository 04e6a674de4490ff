package registry

import (
	"sync"
	"time"

	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/notify"
)

// Registry is an in-memory, registration-ordered set of agents.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]*entry
	events *notify.Broadcaster[Event]
}

type entry struct {
	agent        Agent
	registeredAt time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*entry),
		events: notify.New[Event](notify.DefaultBuffer),
	}
}

// Register adds an agent. It fails with DUPLICATE_ID when the id is taken
// and INVALID_INPUT when the agent or its id is empty.
func (r *Registry) Register(agent Agent) error {
	if agent == nil || agent.ID() == "" {
		return errors.InvalidInput("agent id must not be empty")
	}
	id := agent.ID()

	r.mu.Lock()
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		return errors.DuplicateID("agent", id, errors.WithAgentID(id))
	}
	e := &entry{agent: agent, registeredAt: time.Now()}
	r.agents[id] = e
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.events.Emit(Event{Type: EventAdded, Agent: describe(e)})
	return nil
}

// Deregister removes an agent and reports whether it was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	e, exists := r.agents[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.events.Emit(Event{Type: EventRemoved, Agent: describe(e)})
	return true
}

// Get retrieves an agent by id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Has reports whether an id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Agents returns the registered agents in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].agent)
	}
	return out
}

// List returns snapshots of agents matching the filter, in registration
// order. Pass nil for no filtering.
func (r *Registry) List(filter *Filter) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []AgentInfo
	for _, id := range r.order {
		info := describe(r.agents[id])
		if MatchesFilter(info, filter) {
			result = append(result, info)
		}
	}
	return result
}

// FindByCapability returns the first-registered agent with the capability.
func (r *Registry) FindByCapability(capability string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if a := r.agents[id].agent; HasCapability(a, capability) {
			return a, true
		}
	}
	return nil, false
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Watch returns a channel of registry events and a cancel function.
func (r *Registry) Watch() (<-chan Event, func()) {
	return r.events.Watch()
}

// Close removes every agent and closes watcher channels.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.agents = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	r.events.Close()
	return nil
}

func describe(e *entry) AgentInfo {
	return AgentInfo{
		ID:           e.agent.ID(),
		Name:         e.agent.Name(),
		Capabilities: e.agent.Capabilities(),
		Status:       e.agent.Status(),
		RegisteredAt: e.registeredAt,
	}
}
