package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil. A wrapped *Error keeps its code and
// identifiers; anything else becomes an internal error.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coordErr *Error
	if errors.As(err, &coordErr) {
		wrapped := &Error{
			code:      coordErr.code,
			category:  coordErr.category,
			message:   message,
			cause:     err,
			metadata:  coordErr.Metadata(),
			timestamp: coordErr.timestamp,
			systemID:  coordErr.systemID,
			agentID:   coordErr.agentID,
			messageID: coordErr.messageID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// As extracts a CoordinationError from an error chain, or nil.
func As(err error) CoordinationError {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.category == category
	}
	return false
}

// Code extracts the error code from an error, or "" for foreign errors.
func Code(err error) ErrorCode {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.code
	}
	return ""
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}

// Guard runs fn and converts a panic into an OPERATION_FAILED error whose
// cause is the recovered PANIC error. A plain returned error is wrapped the
// same way so call sites see a single taxonomy.
func Guard(operation string, fn func() error, opts ...Option) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = OperationFailed(operation, RecoverPanic(r), opts...)
		}
	}()
	if ferr := fn(); ferr != nil {
		return OperationFailed(operation, ferr, opts...)
	}
	return nil
}
