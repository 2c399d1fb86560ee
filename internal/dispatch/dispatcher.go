// Package dispatch turns a stream of concurrently arriving per-model
// requests into bounded batched capability invocations. Each model key
// gets its own queue and worker; keys never contend with each other.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/capability"
	"inferd/internal/metrics"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxBatchSize = 8
	defaultBatchTimeout = 100 * time.Millisecond
)

// Config holds the batching tunables.
type Config struct {
	// MaxBatchSize closes a batch window once this many requests are
	// collected. 1 disables batching.
	MaxBatchSize int
	// BatchTimeout closes a batch window after this delay even if it is
	// not full. Zero degenerates to one request per batch.
	BatchTimeout time.Duration
	// MaxQueueDepth bounds the per-model arrival queue; zero means
	// unbounded.
	MaxQueueDepth int
}

// Result is the resolved outcome of one submitted request.
type Result struct {
	RequestID string
	Key       types.ModelKey
	Output    string
	Latency   time.Duration
}

// pending is one queued request. It is owned by the dispatcher from
// enqueue until resolution; the worker is its single resolver.
type pending struct {
	id        string
	key       types.ModelKey
	input     string
	params    map[string]any
	submitted time.Time
	ctx       context.Context
	done      chan struct{}
	result    Result
	err       error
}

// Future is the caller-visible handle for a submitted request.
type Future struct {
	p *pending
}

// RequestID returns the server-generated id for this request.
func (f *Future) RequestID() string { return f.p.id }

// Wait blocks until the request resolves or ctx is done. Cancellation
// after dispatch has begun is not honored: the request still resolves and
// the caller simply discards the result.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.p.done:
		return f.p.result, f.p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Dispatcher groups requests per model key into batch windows and invokes
// the model capability once per batch.
type Dispatcher struct {
	cfg Config
	reg *registry.Registry
	agg *metrics.Aggregator
	log zerolog.Logger

	// stop is closed to halt intake and new batch windows; baseCtx is
	// canceled only after the drain completes (or times out) so in-flight
	// invocations can finish.
	stop    chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	queues map[types.ModelKey]*modelQueue
	closed bool
	wg     sync.WaitGroup
}

// New constructs a dispatcher. Zero config fields fall back to package
// defaults.
func New(reg *registry.Registry, agg *metrics.Aggregator, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.BatchTimeout < 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		reg:     reg,
		agg:     agg,
		log:     log,
		stop:    make(chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
		queues:  make(map[types.ModelKey]*modelQueue),
	}
}

// Submit enqueues one request and returns its future. Unknown keys fail
// fast before entering any queue.
func (d *Dispatcher) Submit(ctx context.Context, key types.ModelKey, input string, params map[string]any) (*Future, error) {
	if !d.reg.Known(key) {
		return nil, registry.ErrModelNotFound(key)
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, shuttingDownError{}
	}
	q := d.queues[key]
	if q == nil {
		q = newModelQueue(key)
		d.queues[key] = q
		d.wg.Add(1)
		go d.worker(q)
	}
	d.mu.Unlock()

	p := &pending{
		id:        uuid.NewString(),
		key:       key,
		input:     input,
		params:    params,
		submitted: time.Now(),
		ctx:       ctx,
		done:      make(chan struct{}),
	}
	if !q.enqueue(p, d.cfg.MaxQueueDepth) {
		return nil, ErrTooBusy(key)
	}
	return &Future{p: p}, nil
}

// Close stops intake, lets each worker finish its current batch, fails
// requests that never made it into a batch, and waits for workers up to
// ctx's deadline. The base context is canceled afterwards as a backstop
// for a stuck capability.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	close(d.stop)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.cancel()
	return err
}

// worker is the single batch former and resolver for one model key.
// Batches for a key are formed and dispatched strictly sequentially.
func (d *Dispatcher) worker(q *modelQueue) {
	defer d.wg.Done()
	for {
		first := d.awaitFirst(q)
		if first == nil {
			d.failRemaining(q)
			return
		}
		batch := d.fillBatch(q, first)
		d.runBatch(q.key, batch)
	}
}

// awaitFirst blocks until a request opens a new batch window, or returns
// nil on shutdown.
func (d *Dispatcher) awaitFirst(q *modelQueue) *pending {
	for {
		select {
		case <-d.stop:
			return nil
		default:
		}
		if p := q.pop(); p != nil {
			return p
		}
		select {
		case <-q.wake:
		case <-d.stop:
			return nil
		}
	}
}

// fillBatch collects requests into the open window until it is full or
// the window deadline fires, whichever happens first.
func (d *Dispatcher) fillBatch(q *modelQueue, first *pending) []*pending {
	batch := []*pending{first}
	if d.cfg.MaxBatchSize <= 1 || d.cfg.BatchTimeout <= 0 {
		return batch
	}
	timer := time.NewTimer(d.cfg.BatchTimeout)
	defer timer.Stop()
	for len(batch) < d.cfg.MaxBatchSize {
		if p := q.pop(); p != nil {
			batch = append(batch, p)
			continue
		}
		select {
		case <-q.wake:
		case <-timer.C:
			return batch
		case <-d.stop:
			// Shutdown closes the window early; whatever is collected
			// still dispatches.
			return batch
		}
	}
	return batch
}

// runBatch resolves a closed batch: acquire the model handle, invoke the
// capability once, and fan results (or one shared failure) back out.
func (d *Dispatcher) runBatch(key types.ModelKey, batch []*pending) {
	// Requests canceled before the window closed leave the batch without
	// affecting the others.
	live := batch[:0]
	for _, p := range batch {
		if err := p.ctx.Err(); err != nil {
			d.resolve(p, "", err)
			continue
		}
		live = append(live, p)
	}
	if len(live) == 0 {
		return
	}
	d.agg.ObserveBatch(len(live))

	lease, err := d.reg.Acquire(d.baseCtx, key)
	if err != nil {
		d.failBatch(live, err)
		return
	}
	defaults := lease.Handle.Descriptor().Parameters
	inputs := make([]capability.Request, len(live))
	for i, p := range live {
		inputs[i] = capability.Request{Input: p.input, Params: mergeParams(defaults, p.params)}
	}
	outputs, err := lease.Handle.Invoke(d.baseCtx, inputs)
	lease.Release()
	if err != nil {
		d.failBatch(live, ErrInvocation(key, err))
		return
	}
	if len(outputs) != len(live) {
		d.failBatch(live, ErrInvocation(key, fmt.Errorf("capability returned %d outputs for %d inputs", len(outputs), len(live))))
		return
	}
	for i, p := range live {
		d.resolve(p, outputs[i], nil)
	}
	d.log.Debug().Stringer("model", key).Int("batch_size", len(live)).Msg("batch dispatched")
}

// failBatch fans a single batch-level failure out to every request.
func (d *Dispatcher) failBatch(batch []*pending, err error) {
	d.log.Warn().Stringer("model", batch[0].key).Int("batch_size", len(batch)).Err(err).Msg("batch failed")
	for _, p := range batch {
		d.resolve(p, "", err)
	}
}

// failRemaining resolves everything still queued at shutdown.
func (d *Dispatcher) failRemaining(q *modelQueue) {
	for {
		p := q.pop()
		if p == nil {
			return
		}
		d.resolve(p, "", shuttingDownError{})
	}
}

// resolve fulfills a request exactly once. Latency is measured from the
// request's own submission time, not the batch's.
func (d *Dispatcher) resolve(p *pending, output string, err error) {
	lat := time.Since(p.submitted)
	p.result = Result{RequestID: p.id, Key: p.key, Output: output, Latency: lat}
	p.err = err
	close(p.done)
	d.agg.Record(p.key, lat, err == nil)
}

// mergeParams overlays per-request overrides on the model defaults.
func mergeParams(defaults, overrides map[string]any) map[string]any {
	if len(defaults) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
