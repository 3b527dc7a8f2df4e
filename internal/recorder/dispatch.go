package recorder

import (
	"context"
	"sync"
)

// Dispatcher runs status updates on the goroutine that owns the status.
// Dispatch must never block the caller.
type Dispatcher interface {
	Dispatch(fn func())
}

// InlineDispatcher runs fn immediately on the calling goroutine.
type InlineDispatcher struct{}

// Dispatch implements Dispatcher.
func (InlineDispatcher) Dispatch(fn func()) { fn() }

// LoopDispatcher queues functions and runs them in order from Run.
// The queue is unbounded so the capture worker is never held up by a slow
// consumer.
type LoopDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

// NewLoopDispatcher creates an empty dispatcher.
func NewLoopDispatcher() *LoopDispatcher {
	return &LoopDispatcher{wake: make(chan struct{}, 1)}
}

// Dispatch implements Dispatcher. Calls after Close are dropped.
func (d *LoopDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes queued functions until ctx is done, then drains what is
// left.
func (d *LoopDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.Close()
			d.drain()
			return
		case <-d.wake:
			d.drain()
		}
	}
}

// Close stops accepting new work.
func (d *LoopDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *LoopDispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}
