// Package bus provides the in-process message bus a coordination system is
// built around.
//
// Every published message takes two paths: it is delivered synchronously to
// subscribers of its type (and to wildcard subscribers), and it is appended
// to a pending queue that the swarm coordinator drains on each tick. A
// bounded history of everything published is kept for inspection.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// Common errors.
var (
	ErrClosed       = errors.New("bus closed")
	ErrInvalidTopic = errors.New("invalid topic")
)

// Wildcard is the topic that receives every published message.
const Wildcard = "*"

// Priority ranks a message. The zero value is treated as PriorityNormal.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities for comparisons: low < normal < critical.
// Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityCritical:
		return 2
	default:
		return 1
	}
}

// ParsePriority converts a string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityCritical:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", errors.New("unknown priority " + s)
}

// Message is the unit of communication between agents.
type Message struct {
	// ID is assigned on publish when empty.
	ID string `json:"id"`

	// Type is the topic subscribers and agent capabilities match against.
	Type string `json:"type"`

	Sender string `json:"sender"`

	// Recipient routes the message to one agent, bypassing capability match.
	Recipient string `json:"recipient,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp is assigned on publish when zero.
	Timestamp time.Time `json:"timestamp"`

	Priority Priority `json:"priority"`

	// Metadata carries string annotations, including trace context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = clonePayload(m.Payload)
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Handler receives a published message. Handlers must treat the message as
// read-only. A returned error is reported, never propagated to the publisher.
type Handler func(ctx context.Context, msg *Message) error

// Stats is a point-in-time view of the bus.
type Stats struct {
	QueueSize        int `json:"queue_size"`
	HistorySize      int `json:"history_size"`
	SubscriberTopics int `json:"subscriber_topics"`
}

// EventType identifies a bus notification.
type EventType string

const (
	// EventSubscriberFailed is emitted when a handler returns an error or panics.
	EventSubscriberFailed EventType = "subscriber_failed"
)

// Event is a notification emitted by a Bus.
type Event struct {
	Type      EventType
	Topic     string
	MessageID string
	Err       error
	Time      time.Time
}

// Config holds bus configuration.
type Config struct {
	// HistoryCapacity bounds the history; oldest entries are evicted first.
	// Default: 10000
	HistoryCapacity int

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Tracer defaults to the global tracer.
	Tracer *telemetry.Tracer
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: 10000,
	}
}

// ValidateTopic checks that a topic can be published to.
// The wildcard is subscribe-only.
func ValidateTopic(topic string) error {
	if topic == "" || topic == Wildcard {
		return ErrInvalidTopic
	}
	return nil
}
