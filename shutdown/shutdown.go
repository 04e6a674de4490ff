package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/swarmkit/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown is already in progress.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Phases used for coordination systems. Lower phases run first.
const (
	// PhaseStop halts new work: tick loops and signal listeners.
	PhaseStop = 10

	// PhaseDetach removes bus subscribers such as the policy engine and
	// the search index.
	PhaseDetach = 20

	// PhaseRelease closes the bus and anything still holding watchers.
	PhaseRelease = 30
)

// Handler is implemented by components that need ordered teardown.
type Handler interface {
	// OnShutdown is called once. ctx is cancelled when the timeout expires.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Sequence.
type Config struct {
	// Timeout bounds ShutdownWithTimeout when it is given zero.
	// Default: 5 seconds
	Timeout time.Duration

	// Logger receives one line per failed handler. Defaults to a discarding
	// logger.
	Logger *logging.Logger

	// OnProgress is called as each handler completes.
	OnProgress func(result HandlerResult)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
