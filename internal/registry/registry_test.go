package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/capability"
	"inferd/internal/catalog"
	"inferd/internal/metrics"
	"inferd/pkg/types"
)

var testKey = types.Key("m", "v1")

// fakeCap is a controllable capability for lifecycle tests.
type fakeCap struct {
	mu        sync.Mutex
	closed    bool
	closeErr  error
	closeGate chan struct{} // blocks Close until closed when non-nil
	invoked   atomic.Int64
}

func (f *fakeCap) Invoke(ctx context.Context, batch []capability.Request) ([]string, error) {
	f.invoked.Add(1)
	out := make([]string, len(batch))
	for i, r := range batch {
		out[i] = "out:" + r.Input
	}
	return out, nil
}

func (f *fakeCap) Close() error {
	if f.closeGate != nil {
		<-f.closeGate
	}
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.closeErr
}

func (f *fakeCap) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry(t *testing.T, factory capability.Factory) *Registry {
	t.Helper()
	cat, err := catalog.New([]catalog.Descriptor{
		{Key: testKey, Type: types.ModelTypeOther, ModelRef: "fake"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	loader := NewLoader(factory, 0, zerolog.Nop())
	return New(cat, loader, metrics.NewAggregator(), zerolog.Nop())
}

func TestEnsureReadyLoadsOnce(t *testing.T) {
	var loads atomic.Int64
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &fakeCap{}, nil
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			_, errs[n] = r.EnsureReady(context.Background(), testKey)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("expected a single load, got %d", n)
	}
	if st, _ := r.Status(testKey); st != StateReady {
		t.Fatalf("state=%s", st)
	}
}

func TestEnsureReadyUnknownKey(t *testing.T) {
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return &fakeCap{}, nil
	})
	_, err := r.EnsureReady(context.Background(), types.Key("nope", "v1"))
	if !IsModelNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestLoadFailureIsObservedByAllWaiters(t *testing.T) {
	boom := errors.New("weights missing")
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, boom
	})

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			_, errs[n] = r.EnsureReady(context.Background(), testKey)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !IsModelLoadFailed(err) {
			t.Fatalf("caller %d: expected load-failed, got %v", i, err)
		}
	}
	if st, _ := r.Status(testKey); st != StateFailed {
		t.Fatalf("state=%s", st)
	}
}

func TestFailedStateRetriesLoad(t *testing.T) {
	var calls atomic.Int64
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return &fakeCap{}, nil
	})

	if _, err := r.EnsureReady(context.Background(), testKey); !IsModelLoadFailed(err) {
		t.Fatalf("first load: expected failure, got %v", err)
	}
	h, err := r.EnsureReady(context.Background(), testKey)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h == nil {
		t.Fatal("retry returned nil handle")
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("factory calls=%d", n)
	}
}

func TestUnloadNoopWhenUnloaded(t *testing.T) {
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return &fakeCap{}, nil
	})
	st, err := r.Unload(testKey)
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	if st != StateUnloaded {
		t.Fatalf("state=%s", st)
	}
}

func TestUnloadClearsFailedState(t *testing.T) {
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return nil, errors.New("boom")
	})
	if _, err := r.EnsureReady(context.Background(), testKey); err == nil {
		t.Fatal("expected load failure")
	}
	st, err := r.Unload(testKey)
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	if st != StateUnloaded {
		t.Fatalf("state=%s", st)
	}
	if got, _ := r.Status(testKey); got != StateUnloaded {
		t.Fatalf("status=%s", got)
	}
}

func TestUnloadBusyDuringLoad(t *testing.T) {
	release := make(chan struct{})
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		<-release
		return &fakeCap{}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.EnsureReady(context.Background(), testKey)
	}()

	// Wait for the entry to enter loading.
	waitForState(t, r, StateLoading)

	if _, err := r.Unload(testKey); !IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
	close(release)
	<-done
}

func TestUnloadReleasesCapability(t *testing.T) {
	fc := &fakeCap{}
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return fc, nil
	})
	if _, err := r.EnsureReady(context.Background(), testKey); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.Unload(testKey); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if !fc.isClosed() {
		t.Fatal("capability not released")
	}
	if len(r.LoadedKeys()) != 0 {
		t.Fatal("expected no loaded keys")
	}
}

func TestUnloadWaitsForLeases(t *testing.T) {
	fc := &fakeCap{}
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return fc, nil
	})
	lease, err := r.Acquire(context.Background(), testKey)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	unloaded := make(chan error, 1)
	go func() {
		_, err := r.Unload(testKey)
		unloaded <- err
	}()

	select {
	case <-unloaded:
		t.Fatal("unload finished while a lease was outstanding")
	case <-time.After(50 * time.Millisecond):
	}
	if fc.isClosed() {
		t.Fatal("capability released under an outstanding lease")
	}

	lease.Release()
	select {
	case err := <-unloaded:
		if err != nil {
			t.Fatalf("unload: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("unload did not complete after lease release")
	}
	if !fc.isClosed() {
		t.Fatal("capability not released after drain")
	}
}

func TestAcquireFailsWhileUnloading(t *testing.T) {
	gate := make(chan struct{})
	fc := &fakeCap{closeGate: gate}
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return fc, nil
	})
	if _, err := r.EnsureReady(context.Background(), testKey); err != nil {
		t.Fatalf("load: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Unload(testKey)
	}()
	waitForState(t, r, StateUnloading)

	_, err := r.Acquire(context.Background(), testKey)
	if !IsModelUnloadFailed(err) {
		t.Fatalf("expected unload-failed for queued work, got %v", err)
	}
	close(gate)
	<-done
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return &fakeCap{}, nil
	})
	lease, err := r.Acquire(context.Background(), testKey)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Release()
	lease.Release()
	if _, err := r.Unload(testKey); err != nil {
		t.Fatalf("unload after double release: %v", err)
	}
}

func TestEnsureReadyWaiterCancellation(t *testing.T) {
	release := make(chan struct{})
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		<-release
		return &fakeCap{}, nil
	})

	go func() { _, _ = r.EnsureReady(context.Background(), testKey) }()
	waitForState(t, r, StateLoading)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.EnsureReady(ctx, testKey); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	// The original load still settles normally.
	close(release)
	waitForState(t, r, StateReady)
}

func TestListStatus(t *testing.T) {
	r := newTestRegistry(t, func(catalog.Descriptor) (capability.Capability, error) {
		return &fakeCap{}, nil
	})
	sts := r.ListStatus()
	if len(sts) != 1 {
		t.Fatalf("expected 1 entry got %d", len(sts))
	}
	if sts[0].State != StateUnloaded {
		t.Fatalf("state=%s", sts[0].State)
	}
	if sts[0].Descriptor.Key != testKey {
		t.Fatalf("key=%s", sts[0].Descriptor.Key)
	}
}

func waitForState(t *testing.T, r *Registry, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st, _ := r.Status(testKey); st == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	st, _ := r.Status(testKey)
	t.Fatalf("timed out waiting for state %s (now %s)", want, st)
}
