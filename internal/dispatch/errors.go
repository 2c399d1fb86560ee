package dispatch

import (
	"inferd/pkg/types"
)

// tooBusyError signals per-model queue overflow for 429 mapping.
type tooBusyError struct{ key types.ModelKey }

func (e tooBusyError) Error() string { return "too busy: " + e.key.String() + " (queue full)" }

// ErrTooBusy returns a backpressure error for key.
func ErrTooBusy(key types.ModelKey) error { return tooBusyError{key: key} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// shuttingDownError signals that the dispatcher no longer accepts work.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "dispatcher is shutting down" }

// IsShuttingDown reports whether err indicates dispatcher shutdown.
func IsShuttingDown(err error) bool {
	_, ok := err.(shuttingDownError)
	return ok
}

// invocationError wraps a capability failure for one batch. It affects
// only the requests of that batch, never registry state.
type invocationError struct {
	key   types.ModelKey
	cause error
}

func (e invocationError) Error() string {
	return "invocation failed: " + e.key.String() + ": " + e.cause.Error()
}

func (e invocationError) Unwrap() error { return e.cause }

// ErrInvocation wraps a batch-level capability failure.
func ErrInvocation(key types.ModelKey, cause error) error {
	return invocationError{key: key, cause: cause}
}

// IsInvocation reports whether err is a batch-level capability failure.
func IsInvocation(err error) bool {
	_, ok := err.(invocationError)
	return ok
}
