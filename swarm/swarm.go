package swarm

import (
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// Config holds coordinator configuration.
type Config struct {
	// Interval between ticks when Start is given no interval.
	// Default: 100ms
	Interval time.Duration

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Tracer defaults to the global tracer.
	Tracer *telemetry.Tracer
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 100 * time.Millisecond,
	}
}

// Metrics is a point-in-time view of a coordinator.
type Metrics struct {
	AgentCount        int           `json:"agent_count"`
	Running           bool          `json:"running"`
	ProcessedMessages int64         `json:"processed_messages"`
	FailedMessages    int64         `json:"failed_messages"`
	UnroutedMessages  int64         `json:"unrouted_messages"`
	Ticks             int64         `json:"ticks"`
	SuccessRate       float64       `json:"success_rate"`
	AverageLatency    time.Duration `json:"average_latency"`
	Uptime            time.Duration `json:"uptime"`
}

// EventType identifies a coordinator notification.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventAgentUnregistered EventType = "agent_unregistered"
	EventMessageProcessed  EventType = "message_processed"
	EventMessageUnrouted   EventType = "message_unrouted"
	EventMessageFailed     EventType = "message_failed"
)

// Event is a notification emitted by a Coordinator.
type Event struct {
	Type     EventType
	SystemID string
	AgentID  string

	// Message is the dispatched message, nil for registration events.
	Message *bus.Message

	// Response is what the agent returned, if anything.
	Response *bus.Message

	// Err is a ROUTING_FAILURE or OPERATION_FAILED error.
	Err error

	Latency time.Duration
	Time    time.Time
}

// TickResult summarises one drain-and-dispatch cycle.
type TickResult struct {
	Messages  int
	Processed int
	Failed    int
	Unrouted  int
}
