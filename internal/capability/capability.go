// Package capability defines the pluggable contract the serving core
// invokes to perform actual model computation, plus the built-in
// deterministic text capabilities backing the default catalog.
package capability

import (
	"context"

	"inferd/internal/catalog"
)

// Request is one element of a batch handed to a capability: the input
// payload and its fully merged parameters.
type Request struct {
	Input  string
	Params map[string]any
}

// Capability performs the model computation for a whole batch.
// Implementations must return exactly one output per request, in request
// order. Capabilities are not assumed reentrant; the dispatcher
// serializes invocations per model key.
type Capability interface {
	Invoke(ctx context.Context, batch []Request) ([]string, error)
}

// Closer is optionally implemented by capabilities holding resources that
// must be released on unload.
type Closer interface {
	Close() error
}

// Factory builds a capability from a descriptor. It is the seam where a
// real model runtime would be plugged in.
type Factory func(desc catalog.Descriptor) (Capability, error)
