package jetstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"jetstream/event"
	"jetstream/internal/logging"
	"jetstream/internal/telemetry"
)

// Handler receives events in delivery order. A non-nil error rejects the
// event: it is counted and the cursor does not move past it. Handlers must
// return once ctx is done; on stop a handler that does not is abandoned
// workerGrace after the drain timeout.
type Handler func(ctx context.Context, ev *event.Event) error

var errDuplicate = errors.New("jetstream: event at or before cursor")

// workerGrace is how long Close waits for a cancelled handler to return.
const workerGrace = time.Second

// ring is a fixed-capacity FIFO. Callers hold the lock.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) len() int   { return r.count }
func (r *ring[T]) full() bool { return r.count == len(r.buf) }

func (r *ring[T]) push(v T) {
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// Dispatcher hands decoded events to the consumer. With PolicyBlock the
// handler runs on the caller's goroutine and a slow consumer stalls the read
// loop. The drop policies put a bounded ring between the read loop and a
// single worker goroutine.
type Dispatcher struct {
	policy   Policy
	capacity int
	handler  Handler
	tracker  *Tracker
	hooks    Hooks
	metrics  *telemetry.Metrics
	stats    *counters

	mu    sync.Mutex
	queue *ring[*event.Event]
	// newest time_us queued or in flight; 0 once the worker finds the queue empty
	queuedMax int64
	closed bool
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}

	workerCtx    context.Context
	cancelWorker context.CancelFunc
}

func newDispatcher(cfg BackPressureCfg, h Handler, tr *Tracker, hooks Hooks, m *telemetry.Metrics, st *counters) *Dispatcher {
	d := &Dispatcher{
		policy:   cfg.Policy,
		capacity: cfg.Capacity,
		handler:  h,
		tracker:  tr,
		hooks:    hooks,
		metrics:  m,
		stats:    st,
		done:     make(chan struct{}),
	}
	if d.policy == PolicyBlock {
		close(d.done)
		return d
	}
	d.queue = newRing[*event.Event](cfg.Capacity)
	d.wake = make(chan struct{}, 1)
	d.quit = make(chan struct{})
	d.workerCtx, d.cancelWorker = context.WithCancel(context.Background())
	go d.worker()
	return d
}

// Deliver offers one event. It returns errDuplicate for events at or before
// the cursor or already queued, a *RejectedError when the in-line handler
// fails, and a *BackpressureError when drop_newest discards the event.
// Evicted, refused and rejected events stay above the cursor, so a replay
// after reconnect offers them again.
func (d *Dispatcher) Deliver(ctx context.Context, ev *event.Event) error {
	if d.behindCursor(ev.TimeUS) {
		d.duplicateSeen()
		return errDuplicate
	}
	if d.queue == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return d.handle(ctx, ev)
	}
	return d.enqueue(ev)
}

func (d *Dispatcher) behindCursor(ts int64) bool {
	c, ok := d.tracker.Current()
	return ok && ts <= c
}

func (d *Dispatcher) duplicateSeen() {
	d.stats.duplicates.Add(1)
	d.metrics.Dropped(telemetry.DropDuplicate)
}

func (d *Dispatcher) enqueue(ev *event.Event) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrStopped
	}
	if ev.TimeUS <= d.queuedMax {
		d.mu.Unlock()
		d.duplicateSeen()
		return errDuplicate
	}
	var evicted *event.Event
	if d.queue.full() {
		if d.policy == PolicyDropNewest {
			d.mu.Unlock()
			err := &BackpressureError{Policy: d.policy, Capacity: d.capacity, TimeUS: ev.TimeUS}
			d.dropped(telemetry.DropOverflow, err)
			return err
		}
		evicted, _ = d.queue.pop()
	}
	d.queue.push(ev)
	d.queuedMax = ev.TimeUS
	depth := d.queue.len()
	d.mu.Unlock()

	d.metrics.QueueDepth(depth)
	if evicted != nil {
		d.dropped(telemetry.DropOverflow, &BackpressureError{Policy: d.policy, Capacity: d.capacity, TimeUS: evicted.TimeUS})
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) dropped(reason string, err error) {
	d.stats.dropped.Add(1)
	d.metrics.Dropped(reason)
	d.hooks.error(err)
}

// handle runs the consumer and advances the cursor on success.
func (d *Dispatcher) handle(ctx context.Context, ev *event.Event) error {
	if d.behindCursor(ev.TimeUS) {
		d.duplicateSeen()
		return errDuplicate
	}
	if err := d.handler(ctx, ev); err != nil {
		rerr := &RejectedError{TimeUS: ev.TimeUS, Err: err}
		d.stats.rejected.Add(1)
		d.metrics.Dropped(telemetry.DropRejected)
		d.hooks.error(rerr)
		return rerr
	}
	cursor, due := d.tracker.Observe(ev.TimeUS)
	d.stats.delivered.Add(1)
	d.metrics.Delivered(cursor)
	if due {
		if c, ok := d.tracker.Checkpoint(); ok {
			d.hooks.checkpoint(c)
		}
	}
	return nil
}

func (d *Dispatcher) next() (*event.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.queue.pop()
	if !ok {
		// the previous event has been handled and nothing is waiting
		d.queuedMax = 0
		return nil, false
	}
	d.metrics.QueueDepth(d.queue.len())
	return ev, true
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.quit:
			d.drain()
			d.discardRemaining()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for d.workerCtx.Err() == nil {
		ev, ok := d.next()
		if !ok {
			return
		}
		if err := d.handle(d.workerCtx, ev); err != nil && !errors.Is(err, errDuplicate) {
			logging.L().Debug("jetstream: event rejected", "time_us", ev.TimeUS, "err", err)
		}
	}
}

func (d *Dispatcher) discardRemaining() {
	d.mu.Lock()
	n := d.queue.len()
	for d.queue.len() > 0 {
		d.queue.pop()
	}
	d.queuedMax = 0
	d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.stats.dropped.Add(1)
		d.metrics.Dropped(telemetry.DropShutdown)
	}
	d.metrics.QueueDepth(0)
	if n > 0 {
		logging.L().Warn("jetstream: dispatch queue not drained before stop", "dropped", n)
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	if d.queue == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.len()
}

// Close stops accepting events and gives the worker up to timeout to hand
// the queued ones to the consumer. After that the handler's ctx is cancelled,
// and a worker still busy workerGrace later is abandoned. It is idempotent.
func (d *Dispatcher) Close(timeout time.Duration) {
	if d.queue == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.quit)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-d.done:
		d.cancelWorker()
		return
	case <-deadline.C:
	}

	d.cancelWorker()
	grace := time.NewTimer(workerGrace)
	defer grace.Stop()
	select {
	case <-d.done:
	case <-grace.C:
		logging.L().Warn("jetstream: handler ignored cancellation, abandoning dispatch worker",
			"drain_timeout", timeout, "grace", workerGrace)
	}
}
