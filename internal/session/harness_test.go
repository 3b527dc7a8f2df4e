package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
	"github.com/bryanchriswhite/WindowLapse/internal/video/videotest"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// tb is the part of testing.TB that rapid.T also provides.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type fakeLocator struct {
	mu      sync.Mutex
	windows []window.Info
	lookups int
}

func (l *fakeLocator) FindWindowByTitle(title string, exact bool) (window.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	return window.FindIn(l.windows, title, exact)
}

func (l *fakeLocator) ListWindows() ([]window.Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]window.Info(nil), l.windows...), nil
}

func (l *fakeLocator) Close() error { return nil }

func (l *fakeLocator) Lookups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookups
}

// scriptSource answers capture call n (1-based, the probe is call 1) with
// script(n).
type scriptSource struct {
	mu     sync.Mutex
	calls  int
	script func(n int) (*frame.Frame, error)
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) Capture(window.Handle) (*frame.Frame, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return s.script(n)
}

func (s *scriptSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func solid(w, h int, v byte) *frame.Frame {
	f := frame.New(w, h)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func static(v byte) func(int) (*frame.Frame, error) {
	return func(int) (*frame.Frame, error) { return solid(4, 3, v), nil }
}

// stepper hands control of the worker's sleep to the test: every sleep
// first announces itself on ticks, then waits for release.
type stepper struct {
	ticks   chan time.Duration
	release chan struct{}
}

func newStepper() *stepper {
	return &stepper{ticks: make(chan time.Duration), release: make(chan struct{})}
}

func (st *stepper) sleep(ctx context.Context, d time.Duration) error {
	select {
	case st.ticks <- d:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-st.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitTick waits until the worker finished a tick and is sleeping.
func (st *stepper) awaitTick(t tb) time.Duration {
	t.Helper()
	select {
	case d := <-st.ticks:
		return d
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not complete a tick")
		return 0
	}
}

// step lets the sleeping worker run exactly one more tick.
func (st *stepper) step(t tb) time.Duration {
	t.Helper()
	st.release <- struct{}{}
	return st.awaitTick(t)
}

func (st *stepper) assertQuiet(t tb) {
	t.Helper()
	select {
	case <-st.ticks:
		t.Fatalf("unexpected worker tick")
	case <-time.After(30 * time.Millisecond):
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) listen(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) kinds(kind EventKind) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	session  *Session
	locator  *fakeLocator
	source   *scriptSource
	encoders *videotest.Factory
	stepper  *stepper
	events   *eventLog
	cfg      Config
}

func newHarness(t testing.TB, script func(int) (*frame.Frame, error), mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		locator:  &fakeLocator{windows: []window.Info{{Handle: 0x2a, Title: "Canvas - Painter"}}},
		source:   &scriptSource{script: script},
		encoders: &videotest.Factory{},
		stepper:  newStepper(),
		events:   &eventLog{},
	}
	opts := Options{
		Locator:      h.locator,
		Legacy:       h.source,
		Encoders:     func() video.Encoder { return h.encoders.New() },
		Listener:     h.events.listen,
		Log:          zerolog.Nop(),
		Sleeper:      h.stepper.sleep,
		ErrorBackoff: 250 * time.Millisecond,
		SettleDelay:  time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.session = s
	h.cfg = Config{
		WindowTitle: "Canvas",
		Interval:    100 * time.Millisecond,
		OutputDir:   t.TempDir(),
		FPS:         20,
	}
	return h
}

func (h *harness) start(t testing.TB) {
	t.Helper()
	if err := h.session.Start(context.Background(), h.cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.stepper.awaitTick(t)
}

func checkInvariants(t tb, snap Snapshot) {
	t.Helper()
	if snap.SavedCount > snap.FrameNumber {
		t.Fatalf("savedCount %d > frameNumber %d", snap.SavedCount, snap.FrameNumber)
	}
	if snap.HasRetainedFrame != (snap.SavedCount > 0) {
		t.Fatalf("retained frame present=%v with savedCount %d", snap.HasRetainedFrame, snap.SavedCount)
	}
}
