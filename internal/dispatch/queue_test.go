package dispatch

import (
	"testing"

	"inferd/pkg/types"
)

func TestQueueFIFO(t *testing.T) {
	q := newModelQueue(types.Key("m", "v1"))
	for _, id := range []string{"1", "2", "3"} {
		if !q.enqueue(&pending{id: id}, 0) {
			t.Fatalf("enqueue %s rejected", id)
		}
	}
	if q.depth() != 3 {
		t.Fatalf("depth=%d", q.depth())
	}
	for _, want := range []string{"1", "2", "3"} {
		p := q.pop()
		if p == nil || p.id != want {
			t.Fatalf("expected %s got %+v", want, p)
		}
	}
	if q.pop() != nil {
		t.Fatal("expected empty queue")
	}
}

func TestQueueDepthBound(t *testing.T) {
	q := newModelQueue(types.Key("m", "v1"))
	if !q.enqueue(&pending{id: "1"}, 1) {
		t.Fatal("first enqueue rejected")
	}
	if q.enqueue(&pending{id: "2"}, 1) {
		t.Fatal("expected overflow rejection")
	}
	// Unbounded when maxDepth is zero.
	if !q.enqueue(&pending{id: "3"}, 0) {
		t.Fatal("unbounded enqueue rejected")
	}
}

func TestQueueWakeCoalesces(t *testing.T) {
	q := newModelQueue(types.Key("m", "v1"))
	q.enqueue(&pending{id: "1"}, 0)
	q.enqueue(&pending{id: "2"}, 0)
	<-q.wake
	select {
	case <-q.wake:
		t.Fatal("expected wakeups to coalesce into one signal")
	default:
	}
}
