package recorder

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoopDispatcherRunsInOrder(t *testing.T) {
	d := NewLoopDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	var mu sync.Mutex
	var got []int
	finished := make(chan struct{})
	for i := 0; i < 50; i++ {
		i := i
		d.Dispatch(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 49 {
				close(finished)
			}
		})
	}

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("dispatched work did not run")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestLoopDispatcherDrainsOnCancel(t *testing.T) {
	d := NewLoopDispatcher()
	ran := 0
	d.Dispatch(func() { ran++ })
	d.Dispatch(func() { ran++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if ran != 2 {
		t.Fatalf("expected queued work to drain, ran %d", ran)
	}

	d.Dispatch(func() { ran++ })
	d.drain()
	if ran != 2 {
		t.Fatalf("dispatch after close should be dropped")
	}
}
