package registry

import (
	"inferd/pkg/types"
)

// modelNotFoundError signals a key the catalog does not know (404 mapping).
type modelNotFoundError struct{ key types.ModelKey }

func (e modelNotFoundError) Error() string { return "model not found: " + e.key.String() }

// ErrModelNotFound returns an error for an unknown model key.
func ErrModelNotFound(key types.ModelKey) error { return modelNotFoundError{key: key} }

// IsModelNotFound reports whether err indicates an unknown model key.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// busyError signals a conflicting in-flight load/unload (409 mapping).
// Callers may retry once the transition settles.
type busyError struct{ key types.ModelKey }

func (e busyError) Error() string {
	return "model busy: " + e.key.String() + " (load or unload in flight)"
}

// ErrBusy returns an error for a conflicting concurrent transition.
func ErrBusy(key types.ModelKey) error { return busyError{key: key} }

// IsBusy reports whether err indicates a conflicting transition.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// loadFailedError carries the loader failure that parked an entry in the
// failed state.
type loadFailedError struct {
	key   types.ModelKey
	cause error
}

func (e loadFailedError) Error() string {
	return "model load failed: " + e.key.String() + ": " + e.cause.Error()
}

func (e loadFailedError) Unwrap() error { return e.cause }

// ErrModelLoadFailed wraps a loader failure for key.
func ErrModelLoadFailed(key types.ModelKey, cause error) error {
	return loadFailedError{key: key, cause: cause}
}

// IsModelLoadFailed reports whether err indicates a failed load attempt.
func IsModelLoadFailed(err error) bool {
	_, ok := err.(loadFailedError)
	return ok
}

// unloadFailedError covers both an unclean loader release and requests
// caught queued behind an unload.
type unloadFailedError struct {
	key   types.ModelKey
	cause error
}

func (e unloadFailedError) Error() string {
	return "model unload failed: " + e.key.String() + ": " + e.cause.Error()
}

func (e unloadFailedError) Unwrap() error { return e.cause }

// ErrModelUnloadFailed wraps an unload-related failure for key.
func ErrModelUnloadFailed(key types.ModelKey, cause error) error {
	return unloadFailedError{key: key, cause: cause}
}

// IsModelUnloadFailed reports whether err is unload-related.
func IsModelUnloadFailed(err error) bool {
	_, ok := err.(unloadFailedError)
	return ok
}
