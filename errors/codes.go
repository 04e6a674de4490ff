package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates a failure that may not recur, such as an
	// agent that failed one message or a tick that found no route.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates the caller must change something before
	// retrying: pick a new identifier, register the missing component, etc.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates bugs or recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Registration
	ErrCodeDuplicateID   ErrorCode = "DUPLICATE_ID"   // Agent or policy id already registered
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // System id already taken
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // System, agent or policy absent
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"  // Malformed argument or config

	// Dispatch
	ErrCodeRoutingFailure  ErrorCode = "ROUTING_FAILURE"  // No recipient or capability match
	ErrCodeOperationFailed ErrorCode = "OPERATION_FAILED" // Agent, subscriber or policy raised

	// Lifecycle
	ErrCodeClosed ErrorCode = "CLOSED" // Component already torn down

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeRoutingFailure, ErrCodeOperationFailed:
		return CategoryTransient
	case ErrCodeDuplicateID, ErrCodeAlreadyExists, ErrCodeNotFound,
		ErrCodeInvalidInput, ErrCodeClosed:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeDuplicateID:     "identifier already registered",
	ErrCodeAlreadyExists:   "resource already exists",
	ErrCodeNotFound:        "resource not found",
	ErrCodeInvalidInput:    "invalid input provided",
	ErrCodeRoutingFailure:  "no agent can handle message",
	ErrCodeOperationFailed: "operation failed",
	ErrCodeClosed:          "component closed",
	ErrCodeInternal:        "internal error",
	ErrCodePanic:           "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
