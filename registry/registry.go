// Package registry defines the agent contract and the ordered registry a
// swarm coordinator routes against.
//
// Agents are supplied by the application; the registry only stores them and
// answers lookups by id and capability. Registration order is preserved
// because capability routing picks the first-registered match.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
)

// Status represents an agent's operational state.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusBusy   Status = "busy"
	StatusError  Status = "error"
)

// Agent is an autonomous worker the coordinator dispatches messages to.
type Agent interface {
	ID() string
	Name() string

	// Capabilities lists the message types the agent handles.
	Capabilities() []string

	Status() Status

	// Process handles one message and may return a response.
	// The message must be treated as read-only.
	Process(ctx context.Context, msg *bus.Message) (*bus.Message, error)
}

// StatusSetter is implemented by agents whose status the coordinator should
// drive: busy while processing, idle after success, error after failure.
type StatusSetter interface {
	SetStatus(Status)
}

// AgentInfo is a snapshot of a registered agent.
type AgentInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities"`
	Status       Status    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Filter specifies criteria for listing agents.
type Filter struct {
	// Status filters by operational state. Empty means all.
	Status Status

	// Capability filters to agents with this capability.
	Capability string
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type EventType

	// Agent is the state at the time of the change.
	Agent AgentInfo
}

// HasCapability checks if an agent lists a capability.
func HasCapability(agent Agent, capability string) bool {
	for _, c := range agent.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// MatchesFilter checks if an agent snapshot matches the filter criteria.
func MatchesFilter(info AgentInfo, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Status != "" && info.Status != filter.Status {
		return false
	}
	if filter.Capability != "" {
		found := false
		for _, c := range info.Capabilities {
			if c == filter.Capability {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// --- Ready-made agents ---

// Base holds the identity and status of an agent. Embed it and add a
// Process method to build an agent.
type Base struct {
	AgentID   string
	AgentName string
	Caps      []string

	mu     sync.RWMutex
	status Status
}

// NewBase returns a Base in the idle state.
func NewBase(id, name string, capabilities ...string) *Base {
	return &Base{AgentID: id, AgentName: name, Caps: capabilities, status: StatusIdle}
}

func (b *Base) ID() string   { return b.AgentID }
func (b *Base) Name() string { return b.AgentName }

// Capabilities returns a copy of the capability list.
func (b *Base) Capabilities() []string {
	return append([]string(nil), b.Caps...)
}

// Status returns the current status; an unset status reads as idle.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.status == "" {
		return StatusIdle
	}
	return b.status
}

// SetStatus updates the status.
func (b *Base) SetStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// ProcessFunc handles a message on behalf of a Func agent.
type ProcessFunc func(ctx context.Context, msg *bus.Message) (*bus.Message, error)

// Func is an agent whose behaviour is a single function.
type Func struct {
	*Base
	fn ProcessFunc
}

// NewFunc creates an agent that delegates Process to fn.
func NewFunc(id, name string, capabilities []string, fn ProcessFunc) *Func {
	return &Func{Base: NewBase(id, name, capabilities...), fn: fn}
}

// Process calls the wrapped function. A nil function acknowledges the
// message without a response.
func (f *Func) Process(ctx context.Context, msg *bus.Message) (*bus.Message, error) {
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, msg)
}
