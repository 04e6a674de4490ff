// Package errors provides the structured error taxonomy used across swarmkit.
//
// # Error Categories
//
//   - Transient: a single dispatch or callback failed; the next message may succeed
//   - Permanent: the caller must change its input (duplicate id, missing system)
//   - Internal: bugs and recovered panics
//
// # Error Codes
//
//   - DUPLICATE_ID: an agent or policy id is already registered
//   - ALREADY_EXISTS: a system id is already taken
//   - NOT_FOUND: an absent system, agent or policy
//   - ROUTING_FAILURE: no recipient or capability match during dispatch
//   - OPERATION_FAILED: an agent, subscriber or policy returned an error or panicked
//
// Routing and operation failures are never returned from the bus fan-out,
// the dispatch tick or policy evaluation. They are delivered as
// notifications and counted in metrics.
//
// # Usage
//
//	if err := coord.RegisterAgent(a); errors.Is(err, errors.ErrCodeDuplicateID) {
//	    // pick another id
//	}
//
// Guard wraps a callback so both returned errors and panics surface as
// OPERATION_FAILED:
//
//	err := errors.Guard("agent writer", func() error { return a.Process(ctx, msg) })
package errors
