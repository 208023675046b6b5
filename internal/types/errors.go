// internal/types/errors.go
package types

import "errors"

// Error taxonomy shared by stores, dispatcher, orchestrator and the HTTP
// surface. Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrValidation marks malformed requests or tool arguments. Rejected
	// before any external capability is called.
	ErrValidation = errors.New("validation error")

	// ErrConcurrencyConflict marks a second run attempt on a session that
	// already has an active run. Never mutates session state.
	ErrConcurrencyConflict = errors.New("run already active for session")

	// ErrNotFound marks an unknown session id.
	ErrNotFound = errors.New("not found")

	// ErrToolExecution marks a dispatched tool that failed or timed out.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrUpstream marks an unreachable or broken external capability
	// (text completion, geocoding, routing).
	ErrUpstream = errors.New("upstream capability error")
)
