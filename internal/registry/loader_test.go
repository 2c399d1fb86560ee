package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/capability"
	"inferd/internal/catalog"
	"inferd/pkg/types"
)

func testDesc() catalog.Descriptor {
	return catalog.Descriptor{Key: types.Key("m", "v1"), Type: types.ModelTypeOther, ModelRef: "fake"}
}

func TestLoaderLoad(t *testing.T) {
	fc := &fakeCap{}
	l := NewLoader(func(catalog.Descriptor) (capability.Capability, error) {
		return fc, nil
	}, 0, zerolog.Nop())

	h, err := l.Load(context.Background(), testDesc())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Descriptor().Key != testDesc().Key {
		t.Fatalf("descriptor key=%s", h.Descriptor().Key)
	}
	out, err := h.Invoke(context.Background(), []capability.Request{{Input: "x"}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(out) != 1 || out[0] != "out:x" {
		t.Fatalf("out=%v", out)
	}
}

func TestLoaderFactoryError(t *testing.T) {
	boom := errors.New("no such model")
	l := NewLoader(func(catalog.Descriptor) (capability.Capability, error) {
		return nil, boom
	}, 0, zerolog.Nop())

	_, err := l.Load(context.Background(), testDesc())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped factory error, got %v", err)
	}
}

func TestLoaderCanceledBeforeStart(t *testing.T) {
	called := false
	l := NewLoader(func(catalog.Descriptor) (capability.Capability, error) {
		called = true
		return &fakeCap{}, nil
	}, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Load(ctx, testDesc()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if called {
		t.Fatal("factory ran under a canceled context")
	}
}

func TestLoaderWarmupCancelReleasesCapability(t *testing.T) {
	fc := &fakeCap{}
	l := NewLoader(func(catalog.Descriptor) (capability.Capability, error) {
		return fc, nil
	}, time.Second, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Load(ctx, testDesc())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !fc.isClosed() {
		t.Fatal("partially constructed capability was not released")
	}
}

func TestLoaderUnloadSurfacesCloseError(t *testing.T) {
	boom := errors.New("busy file")
	fc := &fakeCap{closeErr: boom}
	l := NewLoader(func(catalog.Descriptor) (capability.Capability, error) {
		return fc, nil
	}, 0, zerolog.Nop())

	h, err := l.Load(context.Background(), testDesc())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := l.Unload(h); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped close error, got %v", err)
	}
}
