package policy

import (
	"sync"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/registry"
)

// AgentView is read access to a coordinator's agents.
// *registry.Registry satisfies it.
type AgentView interface {
	Get(id string) (registry.Agent, bool)
	Agents() []registry.Agent
	Len() int
}

// QueueView is read access to a bus's pending queue. *bus.Bus satisfies it.
type QueueView interface {
	Queue() []*bus.Message
	QueueLen() int
}

// Counters are the engine's running totals.
type Counters struct {
	// Messages is how many messages the engine observed.
	Messages int64 `json:"messages"`

	// Evaluated counts policy evaluations (one per policy per message).
	Evaluated int64 `json:"evaluated"`

	Matched int64 `json:"matched"`
	Failed  int64 `json:"failed"`

	// AverageLatency is the mean time of one policy evaluation.
	AverageLatency time.Duration `json:"average_latency"`
}

// Violation is a message a policy flagged.
type Violation struct {
	PolicyID  string    `json:"policy_id"`
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
}

// DefaultMaxViolations bounds the violation log.
const DefaultMaxViolations = 1000

// Context is shared by every policy of one engine. It reads agents and the
// queue live from their owners and keeps the engine's counters, a scratch
// key/value store and a bounded violation log.
type Context struct {
	systemID string
	agents   AgentView
	queue    QueueView

	mu            sync.RWMutex
	counters      Counters
	totalLatency  time.Duration
	values        map[string]any
	violations    []Violation
	maxViolations int

	onViolation func(Violation)
}

func newContext(systemID string, agents AgentView, queue QueueView, maxViolations int) *Context {
	if maxViolations <= 0 {
		maxViolations = DefaultMaxViolations
	}
	return &Context{
		systemID:      systemID,
		agents:        agents,
		queue:         queue,
		values:        make(map[string]any),
		maxViolations: maxViolations,
	}
}

// SystemID returns the id of the system the engine belongs to.
func (c *Context) SystemID() string {
	return c.systemID
}

// Agents returns the currently registered agents.
func (c *Context) Agents() []registry.Agent {
	if c.agents == nil {
		return nil
	}
	return c.agents.Agents()
}

// Agent looks up a registered agent.
func (c *Context) Agent(id string) (registry.Agent, bool) {
	if c.agents == nil {
		return nil, false
	}
	return c.agents.Get(id)
}

// AgentCount returns the number of registered agents.
func (c *Context) AgentCount() int {
	if c.agents == nil {
		return 0
	}
	return c.agents.Len()
}

// Queue returns a snapshot of the pending queue.
func (c *Context) Queue() []*bus.Message {
	if c.queue == nil {
		return nil
	}
	return c.queue.Queue()
}

// QueueLen returns the number of pending messages.
func (c *Context) QueueLen() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.QueueLen()
}

// Counters returns a copy of the running totals.
func (c *Context) Counters() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counters := c.counters
	if counters.Evaluated > 0 {
		counters.AverageLatency = c.totalLatency / time.Duration(counters.Evaluated)
	}
	return counters
}

// Set stores a scratch value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Get reads a scratch value.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Incr adds one to an integer scratch value and returns the new value.
// A missing or non-integer value starts from zero.
func (c *Context) Incr(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.values[key].(int64)
	n++
	c.values[key] = n
	return n
}

// Violate records a violation. The oldest entry is dropped once the log is
// full.
func (c *Context) Violate(v Violation) {
	if v.Time.IsZero() {
		v.Time = time.Now()
	}

	c.mu.Lock()
	if len(c.violations) >= c.maxViolations {
		copy(c.violations, c.violations[1:])
		c.violations = c.violations[:len(c.violations)-1]
	}
	c.violations = append(c.violations, v)
	hook := c.onViolation
	c.mu.Unlock()

	if hook != nil {
		hook(v)
	}
}

// Violations returns the recorded violations, oldest first.
func (c *Context) Violations() []Violation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Violation(nil), c.violations...)
}

func (c *Context) observeMessage() {
	c.mu.Lock()
	c.counters.Messages++
	c.mu.Unlock()
}

func (c *Context) observeEvaluation(matched, failed bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Evaluated++
	c.totalLatency += latency
	if matched {
		c.counters.Matched++
	}
	if failed {
		c.counters.Failed++
	}
}
