package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/capability"
	"inferd/internal/catalog"
)

// Handle is an opaque reference to a loaded model. It stays valid for
// every batch dispatched against it; the registry guarantees the backing
// capability is not released while a lease is outstanding.
type Handle struct {
	desc     catalog.Descriptor
	cap      capability.Capability
	loadedAt time.Time
}

// Descriptor returns the static metadata of the loaded model.
func (h *Handle) Descriptor() catalog.Descriptor { return h.desc }

// Invoke runs the model capability over a batch. Outputs correspond
// positionally to the batch.
func (h *Handle) Invoke(ctx context.Context, batch []capability.Request) ([]string, error) {
	return h.cap.Invoke(ctx, batch)
}

// Loader is a pure lifecycle factory: it brings model instances into
// memory and releases them. It performs no caching; state lives in the
// registry.
type Loader struct {
	factory capability.Factory
	warmup  time.Duration
	log     zerolog.Logger
}

// NewLoader builds a loader around a capability factory. warmup simulates
// the residency cost of bringing weights into memory; zero disables it.
func NewLoader(factory capability.Factory, warmup time.Duration, log zerolog.Logger) *Loader {
	return &Loader{factory: factory, warmup: warmup, log: log}
}

// Load constructs the capability for desc. A load superseded by ctx
// cancellation releases the partially constructed capability instead of
// leaking it.
func (l *Loader) Load(ctx context.Context, desc catalog.Descriptor) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	cap, err := l.factory(desc)
	if err != nil {
		return nil, fmt.Errorf("build capability for %s: %w", desc.Key, err)
	}
	if l.warmup > 0 {
		select {
		case <-time.After(l.warmup):
		case <-ctx.Done():
			if cerr := closeCapability(cap); cerr != nil {
				l.log.Warn().Stringer("model", desc.Key).Err(cerr).Msg("release capability after canceled load")
			}
			return nil, ctx.Err()
		}
	}
	l.log.Info().Stringer("model", desc.Key).Dur("load_time", time.Since(start)).Msg("model loaded")
	return &Handle{desc: desc, cap: cap, loadedAt: time.Now()}, nil
}

// Unload releases the resources behind a handle. Failures are surfaced to
// the caller and logged, never retried.
func (l *Loader) Unload(h *Handle) error {
	if err := closeCapability(h.cap); err != nil {
		l.log.Warn().Stringer("model", h.desc.Key).Err(err).Msg("model unload not clean")
		return fmt.Errorf("release capability for %s: %w", h.desc.Key, err)
	}
	l.log.Info().Stringer("model", h.desc.Key).Msg("model unloaded")
	return nil
}

func closeCapability(c capability.Capability) error {
	if cl, ok := c.(capability.Closer); ok {
		return cl.Close()
	}
	return nil
}
