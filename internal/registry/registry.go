// Package registry tracks the load state of every catalogued model and
// mediates all load/unload transitions. Each key has an independently
// locked entry; no lock ever spans more than one key.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/catalog"
	"inferd/internal/metrics"
	"inferd/pkg/types"
)

// State is the lifecycle state of a registry entry. Transitions form a
// strict cycle: unloaded -> loading -> {ready, failed} -> unloading ->
// unloaded.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateUnloading State = "unloading"
	StateFailed    State = "failed"
)

// drainPoll is the interval at which an unload re-checks outstanding
// batch leases.
const drainPoll = 10 * time.Millisecond

// entry is the mutable record for one model key. Its mutex is the only
// exclusion required by the serving core; the handle is valid exactly
// while state is ready or a lease taken during ready is outstanding.
type entry struct {
	mu      sync.Mutex
	desc    catalog.Descriptor
	state   State
	handle  *Handle
	lastErr error
	since   time.Time
	// settled is non-nil while a load or unload is in flight and closed
	// when the transition completes, waking waiters.
	settled chan struct{}
	// inflight counts batch leases currently holding the handle.
	inflight int
}

// EntryStatus is a read-only projection of one entry.
type EntryStatus struct {
	Descriptor catalog.Descriptor
	State      State
	Since      time.Time
	Err        error
}

// Registry holds one entry per catalogued key. The entry map itself is
// fixed at construction, so lookups are lock-free.
type Registry struct {
	loader  *Loader
	agg     *metrics.Aggregator
	log     zerolog.Logger
	entries map[types.ModelKey]*entry
	order   []types.ModelKey
}

// New builds a registry with every catalogued model in the unloaded state.
func New(cat *catalog.Catalog, loader *Loader, agg *metrics.Aggregator, log zerolog.Logger) *Registry {
	r := &Registry{
		loader:  loader,
		agg:     agg,
		log:     log,
		entries: make(map[types.ModelKey]*entry, cat.Len()),
	}
	now := time.Now()
	for _, d := range cat.List() {
		r.entries[d.Key] = &entry{desc: d, state: StateUnloaded, since: now}
		r.order = append(r.order, d.Key)
	}
	return r
}

// Known reports whether key is served by this registry.
func (r *Registry) Known(key types.ModelKey) bool {
	_, ok := r.entries[key]
	return ok
}

// EnsureReady returns the handle for key, loading the model first if
// necessary. Concurrent callers for the same key never trigger a second
// load: late arrivals wait for the in-flight load and observe its outcome.
func (r *Registry) EnsureReady(ctx context.Context, key types.ModelKey) (*Handle, error) {
	e, ok := r.entries[key]
	if !ok {
		return nil, ErrModelNotFound(key)
	}
	for {
		e.mu.Lock()
		switch e.state {
		case StateReady:
			h := e.handle
			e.mu.Unlock()
			return h, nil

		case StateLoading:
			ch := e.settled
			e.mu.Unlock()
			if err := waitSettled(ctx, ch); err != nil {
				return nil, err
			}
			if h, err, settled := e.loadOutcome(); settled {
				return h, err
			}
			// An unload slipped in before we observed the outcome;
			// take another pass.

		case StateUnloading:
			ch := e.settled
			e.mu.Unlock()
			if err := waitSettled(ctx, ch); err != nil {
				return nil, err
			}

		case StateUnloaded, StateFailed:
			e.begin(StateLoading)
			e.mu.Unlock()
			return r.load(ctx, e)
		}
	}
}

// Acquire resolves a ready handle like EnsureReady and additionally takes
// a lease that keeps the handle valid until Release. Work arriving while
// the model is unloading fails instead of waiting: queued requests do not
// survive an unload.
func (r *Registry) Acquire(ctx context.Context, key types.ModelKey) (*Lease, error) {
	e, ok := r.entries[key]
	if !ok {
		return nil, ErrModelNotFound(key)
	}
	for {
		e.mu.Lock()
		switch e.state {
		case StateReady:
			e.inflight++
			l := &Lease{e: e, Handle: e.handle}
			e.mu.Unlock()
			return l, nil

		case StateLoading:
			ch := e.settled
			e.mu.Unlock()
			if err := waitSettled(ctx, ch); err != nil {
				return nil, err
			}
			if _, err, settled := e.loadOutcome(); settled && err != nil {
				return nil, err
			}
			// Loaded fine (or state moved on): loop to take the lease
			// under the lock.

		case StateUnloading:
			e.mu.Unlock()
			return nil, ErrModelUnloadFailed(key, errors.New("model unloaded while requests were queued"))

		case StateUnloaded, StateFailed:
			e.begin(StateLoading)
			e.mu.Unlock()
			if _, err := r.load(ctx, e); err != nil {
				return nil, err
			}
		}
	}
}

// Unload releases the model behind key. Unloading an already-unloaded key
// is a no-op; a conflicting in-flight transition fails with Busy. The
// handle is released only after every outstanding batch lease returns.
func (r *Registry) Unload(key types.ModelKey) (State, error) {
	e, ok := r.entries[key]
	if !ok {
		return "", ErrModelNotFound(key)
	}
	e.mu.Lock()
	switch e.state {
	case StateUnloaded:
		e.mu.Unlock()
		return StateUnloaded, nil
	case StateLoading, StateUnloading:
		st := e.state
		e.mu.Unlock()
		return st, ErrBusy(key)
	case StateFailed:
		// Nothing resident; clear the parked failure.
		e.state = StateUnloaded
		e.lastErr = nil
		e.since = time.Now()
		e.mu.Unlock()
		return StateUnloaded, nil
	}
	// Ready: begin the unload and detach the handle from the entry.
	// Outstanding leases keep their reference until released.
	e.begin(StateUnloading)
	h := e.handle
	e.handle = nil
	e.mu.Unlock()
	r.log.Info().Stringer("model", key).Msg("unload start")

	// Drain outstanding batch leases. They are bounded by capability
	// invocation time, so poll until the count reaches zero.
	for {
		e.mu.Lock()
		n := e.inflight
		e.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(drainPoll)
	}

	err := r.loader.Unload(h)
	e.mu.Lock()
	e.state = StateUnloaded
	e.since = time.Now()
	close(e.settled)
	e.settled = nil
	e.mu.Unlock()
	r.agg.RecordUnload(key, err == nil)
	if err != nil {
		return StateUnloaded, ErrModelUnloadFailed(key, err)
	}
	return StateUnloaded, nil
}

// UnloadAll releases every ready model; used during graceful shutdown
// after the dispatcher has drained.
func (r *Registry) UnloadAll() {
	for _, key := range r.order {
		st, err := r.Unload(key)
		if err != nil {
			r.log.Warn().Stringer("model", key).Str("state", string(st)).Err(err).Msg("unload during shutdown")
		}
	}
}

// Status returns the current state of key.
func (r *Registry) Status(key types.ModelKey) (State, error) {
	e, ok := r.entries[key]
	if !ok {
		return "", ErrModelNotFound(key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// ListStatus returns every entry's projection in catalog order.
func (r *Registry) ListStatus() []EntryStatus {
	out := make([]EntryStatus, 0, len(r.order))
	for _, key := range r.order {
		e := r.entries[key]
		e.mu.Lock()
		out = append(out, EntryStatus{Descriptor: e.desc, State: e.state, Since: e.since, Err: e.lastErr})
		e.mu.Unlock()
	}
	return out
}

// LoadedKeys returns the keys currently in the ready state, in catalog
// order.
func (r *Registry) LoadedKeys() []types.ModelKey {
	var out []types.ModelKey
	for _, key := range r.order {
		e := r.entries[key]
		e.mu.Lock()
		if e.state == StateReady {
			out = append(out, key)
		}
		e.mu.Unlock()
	}
	return out
}

// load runs the loader for an entry already transitioned to loading and
// commits the outcome. Exactly one goroutine runs this per settled chan.
func (r *Registry) load(ctx context.Context, e *entry) (*Handle, error) {
	h, err := r.loader.Load(ctx, e.desc)
	e.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.lastErr = err
		e.handle = nil
	} else {
		e.state = StateReady
		e.lastErr = nil
		e.handle = h
	}
	e.since = time.Now()
	close(e.settled)
	e.settled = nil
	e.mu.Unlock()
	r.agg.RecordLoad(e.desc.Key, err == nil)
	if err != nil {
		r.log.Error().Stringer("model", e.desc.Key).Err(err).Msg("model load failed")
		return nil, ErrModelLoadFailed(e.desc.Key, err)
	}
	return h, nil
}

// begin moves the entry into a transition state under the caller-held
// lock, arming the settled channel.
func (e *entry) begin(st State) {
	e.state = st
	e.lastErr = nil
	e.since = time.Now()
	e.settled = make(chan struct{})
}

// loadOutcome observes the result of a load this caller waited on.
// settled=false means a later transition already replaced the outcome.
func (e *entry) loadOutcome() (*Handle, error, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateReady:
		return e.handle, nil, true
	case StateFailed:
		return nil, ErrModelLoadFailed(e.desc.Key, e.lastErr), true
	}
	return nil, nil, false
}

func waitSettled(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lease pins a handle for the duration of one batch dispatch.
type Lease struct {
	e      *entry
	Handle *Handle
	once   sync.Once
}

// Release returns the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.e.mu.Lock()
		l.e.inflight--
		l.e.mu.Unlock()
	})
}
