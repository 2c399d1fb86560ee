package dispatch

import (
	"sync"

	"inferd/pkg/types"
)

// modelQueue is the arrival queue for one model key. The wake channel is
// 1-buffered so any number of enqueues collapse into one worker wakeup;
// the worker always drains the slice before sleeping again.
type modelQueue struct {
	key     types.ModelKey
	mu      sync.Mutex
	pending []*pending
	wake    chan struct{}
}

func newModelQueue(key types.ModelKey) *modelQueue {
	return &modelQueue{key: key, wake: make(chan struct{}, 1)}
}

// enqueue appends p and signals the worker. Returns false when maxDepth
// is configured and the queue is already full.
func (q *modelQueue) enqueue(p *pending, maxDepth int) bool {
	q.mu.Lock()
	if maxDepth > 0 && len(q.pending) >= maxDepth {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, p)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest pending request, or nil when the queue is empty.
func (q *modelQueue) pop() *pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	p := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return p
}

// depth returns the current queue length.
func (q *modelQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
