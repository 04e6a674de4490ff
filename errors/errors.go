package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// CoordinationError is the interface for all structured errors in swarmkit.
type CoordinationError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for handling decisions.
	Category() ErrorCategory

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of CoordinationError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	systemID  string
	agentID   string
	messageID string
}

var (
	_ CoordinationError = (*Error)(nil)
	_ json.Marshaler    = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable reports whether the category allows a retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// SystemID returns the coordination system the error belongs to, if set.
func (e *Error) SystemID() string {
	return e.systemID
}

// AgentID returns the agent involved, if set.
func (e *Error) AgentID() string {
	return e.agentID
}

// MessageID returns the message being handled, if set.
func (e *Error) MessageID() string {
	return e.messageID
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	SystemID  string            `json:"system_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		SystemID:  e.systemID,
		AgentID:   e.agentID,
		MessageID: e.messageID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSystemID sets the owning system.
func WithSystemID(id string) Option {
	return func(e *Error) {
		e.systemID = id
	}
}

// WithAgentID sets the agent involved.
func WithAgentID(id string) Option {
	return func(e *Error) {
		e.agentID = id
	}
}

// WithMessageID sets the message being handled.
func WithMessageID(id string) Option {
	return func(e *Error) {
		e.messageID = id
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// DuplicateID reports that kind (agent, policy) id is already registered.
func DuplicateID(kind, id string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("kind", kind), WithMetadata("id", id)}, opts...)
	return New(ErrCodeDuplicateID, fmt.Sprintf("%s %q already registered", kind, id), opts...)
}

// AlreadyExists reports that kind id is already taken.
func AlreadyExists(kind, id string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("kind", kind), WithMetadata("id", id)}, opts...)
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s %q already exists", kind, id), opts...)
}

// NotFound reports that kind id does not exist.
func NotFound(kind, id string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("kind", kind), WithMetadata("id", id)}, opts...)
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", kind, id), opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// RoutingFailure reports a message that no agent could take.
func RoutingFailure(messageID, reason string, opts ...Option) *Error {
	opts = append([]Option{WithMessageID(messageID)}, opts...)
	return New(ErrCodeRoutingFailure, fmt.Sprintf("message %s unrouted: %s", messageID, reason), opts...)
}

// OperationFailed wraps a failure raised by an agent, subscriber or policy.
func OperationFailed(operation string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithCause(cause), WithMetadata("operation", operation)}, opts...)
	return New(ErrCodeOperationFailed, operation+" failed", opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
