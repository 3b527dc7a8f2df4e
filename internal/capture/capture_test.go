package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

type fakeBackend struct {
	mu         sync.Mutex
	startErr   error
	onStart    []*frame.Frame
	pull       *frame.Frame
	deliver    func(*frame.Frame)
	starts     int
	stops      int
	lastTarget window.Handle
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Start(target window.Handle, deliver func(*frame.Frame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	b.lastTarget = target
	if b.startErr != nil {
		return b.startErr
	}
	b.deliver = deliver
	for _, f := range b.onStart {
		deliver(f)
	}
	return nil
}

func (b *fakeBackend) TryPull() (*frame.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pull == nil {
		return nil, false
	}
	f := b.pull
	b.pull = nil
	return f, true
}

func (b *fakeBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return nil
}

type fakeSource struct {
	calls atomic.Int32
	f     *frame.Frame
	err   error
}

func (s *fakeSource) Name() string { return "fake-legacy" }

func (s *fakeSource) Capture(window.Handle) (*frame.Frame, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.f.Clone(), nil
}

func fastCompositor(b Backend) *CompositorSource {
	c := NewCompositorSource(b, zerolog.Nop())
	c.WarmupPolls = 3
	c.WarmupInterval = time.Millisecond
	return c
}

func TestCompositorInitializeSucceedsWhenFrameArrives(t *testing.T) {
	b := &fakeBackend{onStart: []*frame.Frame{frame.New(4, 3)}}
	c := fastCompositor(b)

	if !c.Initialize(context.Background(), 42) {
		t.Fatalf("expected initialize to succeed")
	}
	if b.lastTarget != 42 {
		t.Fatalf("backend started for %v, want 42", b.lastTarget)
	}

	f, err := c.Capture(42)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if f.Width != 4 || f.Height != 3 {
		t.Fatalf("unexpected frame size %dx%d", f.Width, f.Height)
	}
}

func TestCompositorInitializeTimesOutAndStopsBackend(t *testing.T) {
	b := &fakeBackend{}
	c := fastCompositor(b)

	if c.Initialize(context.Background(), 1) {
		t.Fatalf("expected initialize to fail without frames")
	}
	if b.stops != 1 {
		t.Fatalf("expected backend stopped once, got %d", b.stops)
	}
	if _, err := c.Capture(1); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame after failed init, got %v", err)
	}
}

func TestCompositorInitializeFailsWhenBackendCannotStart(t *testing.T) {
	b := &fakeBackend{startErr: errors.New("portal denied")}
	if fastCompositor(b).Initialize(context.Background(), 1) {
		t.Fatalf("expected initialize to fail")
	}
	if fastCompositor(nil).Initialize(context.Background(), 1) {
		t.Fatalf("nil backend must never initialize")
	}
}

func TestCompositorInitializeUsesManualPull(t *testing.T) {
	b := &fakeBackend{pull: frame.New(2, 2)}
	if !fastCompositor(b).Initialize(context.Background(), 1) {
		t.Fatalf("a pulled frame should complete warm-up")
	}
}

func TestCompositorLatestFrameWins(t *testing.T) {
	b := &fakeBackend{onStart: []*frame.Frame{frame.New(1, 1)}}
	c := fastCompositor(b)
	if !c.Initialize(context.Background(), 1) {
		t.Fatalf("initialize failed")
	}

	b.deliver(frame.New(2, 2))
	b.deliver(frame.New(3, 3))

	f, err := c.Capture(1)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if f.Width != 3 {
		t.Fatalf("expected newest frame, got width %d", f.Width)
	}

	// Caller owns the returned frame.
	f.Pix[0] = 99
	again, _ := c.Capture(1)
	if again.Pix[0] == 99 {
		t.Fatalf("capture returned the slot's buffer instead of a copy")
	}
}

func TestCompositorConcurrentDelivery(t *testing.T) {
	b := &fakeBackend{onStart: []*frame.Frame{frame.New(1, 1)}}
	c := fastCompositor(b)
	if !c.Initialize(context.Background(), 1) {
		t.Fatalf("initialize failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.deliver(frame.New(1+i%4, 1))
		}
	}()
	for i := 0; i < 200; i++ {
		if _, err := c.Capture(1); err != nil {
			t.Fatalf("capture: %v", err)
		}
	}
	wg.Wait()
}

func TestSelectorFallsBackPerCallOnNoFrame(t *testing.T) {
	b := &fakeBackend{onStart: []*frame.Frame{frame.New(1, 1)}}
	comp := fastCompositor(b)
	legacy := &fakeSource{f: frame.New(5, 5)}
	sel := NewSelector(legacy, comp, zerolog.Nop())

	if !sel.Init(context.Background(), 7, true) {
		t.Fatalf("expected compositor path")
	}
	if sel.Mode() != ModeCompositor {
		t.Fatalf("unexpected mode %s", sel.Mode())
	}

	if _, err := sel.Capture(7); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if legacy.calls.Load() != 0 {
		t.Fatalf("legacy path used while compositor had a frame")
	}

	// Simulate a stall: slot emptied, nothing to pull.
	comp.mu.Lock()
	comp.latest = nil
	comp.mu.Unlock()

	f, err := sel.Capture(7)
	if err != nil {
		t.Fatalf("fallback capture: %v", err)
	}
	if f.Width != 5 || legacy.calls.Load() != 1 {
		t.Fatalf("expected legacy frame, got %dx%d after %d calls", f.Width, f.Height, legacy.calls.Load())
	}
}

func TestSelectorUsesLegacyWhenCompositorFails(t *testing.T) {
	b := &fakeBackend{}
	legacy := &fakeSource{f: frame.New(2, 2)}
	sel := NewSelector(legacy, fastCompositor(b), zerolog.Nop())

	if sel.Init(context.Background(), 1, true) {
		t.Fatalf("expected compositor init to fail")
	}
	if sel.Mode() != ModeLegacy {
		t.Fatalf("expected legacy mode, got %s", sel.Mode())
	}
	if _, err := sel.Capture(1); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if b.starts != 1 {
		t.Fatalf("compositor should have been tried once, got %d", b.starts)
	}
}

func TestSelectorSkipsCompositorWhenNotPreferred(t *testing.T) {
	b := &fakeBackend{onStart: []*frame.Frame{frame.New(1, 1)}}
	sel := NewSelector(&fakeSource{f: frame.New(1, 1)}, fastCompositor(b), zerolog.Nop())

	if sel.Init(context.Background(), 1, false) {
		t.Fatalf("compositor should not be used")
	}
	if b.starts != 0 {
		t.Fatalf("backend started although compositor was not preferred")
	}
}

func TestSelectorCloseStopsCompositor(t *testing.T) {
	b := &fakeBackend{onStart: []*frame.Frame{frame.New(1, 1)}}
	sel := NewSelector(&fakeSource{f: frame.New(1, 1)}, fastCompositor(b), zerolog.Nop())
	sel.Init(context.Background(), 1, true)

	sel.Close()
	sel.Close()

	if b.stops != 1 {
		t.Fatalf("expected one backend stop, got %d", b.stops)
	}
	if sel.Mode() != ModeNone {
		t.Fatalf("expected mode reset, got %s", sel.Mode())
	}
}

func TestSelectorPropagatesLegacyErrors(t *testing.T) {
	want := &Error{Kind: WindowGeometryUnavailable, Op: "get window geometry"}
	sel := NewSelector(&fakeSource{err: want}, nil, zerolog.Nop())
	sel.Init(context.Background(), 1, true)

	_, err := sel.Capture(1)
	if !IsKind(err, WindowGeometryUnavailable) {
		t.Fatalf("expected geometry error, got %v", err)
	}
}

func TestErrorKindsAndCodes(t *testing.T) {
	err := nativeError("get image", xproto.DrawableError{})
	if err.Code != xproto.BadDrawable {
		t.Fatalf("expected BadDrawable code, got %d", err.Code)
	}
	if !errors.Is(err, &Error{Kind: NativeAPIFailure}) {
		t.Fatalf("errors.Is should match by kind")
	}
	if errors.Is(err, &Error{Kind: WindowNotFound}) {
		t.Fatalf("errors.Is matched the wrong kind")
	}
	if nativeError("x", errors.New("plain")).Code != 0 {
		t.Fatalf("non-X11 errors carry no code")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("empty error message")
	}
}
