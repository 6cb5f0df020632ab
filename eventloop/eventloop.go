// Package eventloop implements the in-process typed broadcast bus that
// every consensus task reacts to. Delivery is at-least-once per
// subscriber; within one task, events are processed in the order
// delivered, and the bus preserves per-publisher FIFO, but gives no
// ordering guarantee across publishers (consensus correctness does not
// depend on cross-publisher order, since every QC/TC carries its own
// view).
package eventloop

import (
	"context"
	"reflect"
	"sync"
)

type handler struct {
	fn       func(event any)
	observer bool
}

// EventLoop is a single-goroutine event dispatcher: one EventLoop per
// task would defeat the point of a shared bus, so in this implementation
// one EventLoop instance is shared by every task, and each task registers
// handlers for the event kinds it cares about. This mirrors the corpus's
// convention of a single EventLoop reachable from modules.Core, driven by
// one dispatch goroutine per replica process.
type EventLoop struct {
	mut      sync.Mutex
	handlers map[reflect.Type][]handler
	queue    chan any
	ctx      context.Context
	cancel   context.CancelFunc

	// viewCtx/viewCancel are replaced on every view change so that
	// ViewContext() always returns a context scoped to the current view.
	viewMut    sync.Mutex
	viewCtx    context.Context
	viewCancel context.CancelFunc
}

// New returns an EventLoop with the given inbound queue depth. A depth of
// 0 makes AddEvent wait until another goroutine running Run (or Tick) takes
// the event, so a single goroutine that calls AddEvent and then Tick needs
// a depth of at least 1.
func New(capacity int) *EventLoop {
	ctx, cancel := context.WithCancel(context.Background())
	vctx, vcancel := context.WithCancel(ctx)
	return &EventLoop{
		handlers:   make(map[reflect.Type][]handler),
		queue:      make(chan any, capacity),
		ctx:        ctx,
		cancel:     cancel,
		viewCtx:    vctx,
		viewCancel: vcancel,
	}
}

// Context returns a context canceled when the event loop is shut down.
func (el *EventLoop) Context() context.Context { return el.ctx }

// ViewContext returns a context canceled when the next view begins (via
// NewView), bounding blocking calls like CommandQueue.Get to the
// lifetime of the current view.
func (el *EventLoop) ViewContext() context.Context {
	el.viewMut.Lock()
	defer el.viewMut.Unlock()
	return el.viewCtx
}

// NewView cancels the previous view's context and starts a fresh one,
// called by the synchronizer on every AdvanceView.
func (el *EventLoop) NewView() {
	el.viewMut.Lock()
	defer el.viewMut.Unlock()
	el.viewCancel()
	el.viewCtx, el.viewCancel = context.WithCancel(el.ctx)
}

// RegisterHandler registers fn to run for every event matching the
// (zero-valued) sample's type. By convention one handler owns a given
// event kind's "primary" reaction (matching the corpus's RegisterHandler,
// used e.g. for the single OnPropose reaction to ProposeMsg); the loop
// does not enforce this, and every handler and observer registered for a
// type runs, in registration order.
func (el *EventLoop) RegisterHandler(sample any, fn func(event any)) {
	el.register(sample, fn, false)
}

// RegisterObserver registers fn to run for every event matching sample's
// type, alongside any other observers or the primary handler; used for
// secondary reactions like metrics taps and timeout-countdown resets
// (matching the corpus's RegisterObserver).
func (el *EventLoop) RegisterObserver(sample any, fn func(event any)) {
	el.register(sample, fn, true)
}

func (el *EventLoop) register(sample any, fn func(event any), observer bool) {
	t := reflect.TypeOf(sample)
	el.mut.Lock()
	defer el.mut.Unlock()
	el.handlers[t] = append(el.handlers[t], handler{fn: fn, observer: observer})
}

// AddEvent publishes event to the bus. The queue is bounded by the
// capacity given to New: while it is full, AddEvent blocks until a slot
// frees or the loop is shut down (in which case the event is dropped).
func (el *EventLoop) AddEvent(event any) {
	select {
	case el.queue <- event:
	case <-el.ctx.Done():
	}
}

// Tick processes exactly one queued event, dispatching it to every
// registered handler/observer for its type, and reports whether an event
// was available. Deterministic tests (and the in-memory simnet driver)
// call Tick in a loop instead of Run, to control interleaving precisely.
func (el *EventLoop) Tick() bool {
	select {
	case event := <-el.queue:
		el.dispatch(event)
		return true
	default:
		return false
	}
}

// Run drains the queue until ctx is done, dispatching every event to its
// registered handlers. This is the production driver loop; one goroutine
// per replica runs it.
func (el *EventLoop) Run(ctx context.Context) {
	for {
		select {
		case event := <-el.queue:
			el.dispatch(event)
		case <-ctx.Done():
			return
		case <-el.ctx.Done():
			return
		}
	}
}

func (el *EventLoop) dispatch(event any) {
	t := reflect.TypeOf(event)
	el.mut.Lock()
	hs := make([]handler, len(el.handlers[t]))
	copy(hs, el.handlers[t])
	el.mut.Unlock()
	for _, h := range hs {
		h.fn(event)
	}
}

// Shutdown cancels the event loop's context; tasks whose Run loops select
// on Context().Done() unwind on the next iteration.
func (el *EventLoop) Shutdown() {
	el.cancel()
}
