package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/session"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
	"github.com/bryanchriswhite/WindowLapse/internal/video/videotest"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

type fakeLocator struct {
	mu      sync.Mutex
	windows []window.Info
	lists   int
}

func (l *fakeLocator) FindWindowByTitle(title string, exact bool) (window.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return window.FindIn(l.windows, title, exact)
}

func (l *fakeLocator) ListWindows() ([]window.Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lists++
	return append([]window.Info(nil), l.windows...), nil
}

func (l *fakeLocator) Close() error { return nil }

type fakeSource struct {
	mu  sync.Mutex
	err error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Capture(window.Handle) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return frame.New(4, 3), nil
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// gate blocks every worker sleep until the test releases it.
type gate struct {
	ticks   chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{ticks: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) sleep(ctx context.Context, _ time.Duration) error {
	select {
	case g.ticks <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) await(t *testing.T) {
	t.Helper()
	select {
	case <-g.ticks:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not tick")
	}
}

func (g *gate) step(t *testing.T) {
	t.Helper()
	g.release <- struct{}{}
	g.await(t)
}

type fixture struct {
	rec      *Recorder
	locator  *fakeLocator
	source   *fakeSource
	encoders *videotest.Factory
	gate     *gate
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDispatcher(t, nil)
}

func newFixtureWithDispatcher(t *testing.T, d Dispatcher) *fixture {
	t.Helper()
	f := &fixture{
		locator:  &fakeLocator{windows: []window.Info{{Handle: 7, Title: "Sketchbook"}, {Handle: 9, Title: "Terminal"}}},
		source:   &fakeSource{},
		encoders: &videotest.Factory{},
		gate:     newGate(),
		dir:      t.TempDir(),
	}
	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := New(Options{
		Session: session.Options{
			Locator:     f.locator,
			Legacy:      f.source,
			Encoders:    func() video.Encoder { return f.encoders.New() },
			Log:         zerolog.Nop(),
			Clock:       func() time.Time { return epoch },
			Sleeper:     f.gate.sleep,
			SettleDelay: time.Millisecond,
		},
		Settings: func() session.Config {
			return session.Config{WindowTitle: "Sketchbook", Interval: time.Second, OutputDir: f.dir}
		},
		Dispatcher: d,
		Log:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	f.rec = rec
	t.Cleanup(func() { rec.Stop() })
	return f
}

func TestInitialStatus(t *testing.T) {
	f := newFixture(t)
	if got := f.rec.Status(); got != StatusIdle {
		t.Fatalf("status = %q, want %q", got, StatusIdle)
	}
}

func TestStatusFollowsLifecycle(t *testing.T) {
	f := newFixture(t)

	if err := f.rec.Start(context.Background(), "", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gate.await(t)
	if got, want := f.rec.Status(), "Recording (elapsed 00:00, retained 1)"; got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}

	f.rec.Pause()
	if got, want := f.rec.Status(), "Paused (elapsed 00:00, retained 1)"; got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}

	res := f.rec.Stop()
	if !res.Stopped || res.Err != nil {
		t.Fatalf("unexpected stop result: %+v", res)
	}
	want := "Stopped, video saved: " + res.File.Path
	if got := f.rec.Status(); !strings.HasPrefix(got, want) || !strings.HasSuffix(got, " bytes)") {
		t.Fatalf("status = %q, want prefix %q", got, want)
	}
}

// queueDispatcher holds work until flush. before, when set, runs once at
// the next Dispatch ahead of queueing.
type queueDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	before func()
}

func (d *queueDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	hook := d.before
	d.before = nil
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
}

func (d *queueDispatcher) flush() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
	}
}

func TestRefreshRacingPauseKeepsPausedStatus(t *testing.T) {
	d := &queueDispatcher{}
	f := newFixtureWithDispatcher(t, d)

	if err := f.rec.Start(context.Background(), "", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gate.await(t)
	d.flush()
	if got := f.rec.Status(); !strings.HasPrefix(got, "Recording") {
		t.Fatalf("status = %q, want recording", got)
	}

	// The pause lands after Refresh was called but before its work is queued.
	d.mu.Lock()
	d.before = func() { f.rec.Pause() }
	d.mu.Unlock()
	f.rec.Refresh()
	d.flush()

	if got := f.rec.Snapshot().State; got != session.Paused {
		t.Fatalf("state = %v, want paused", got)
	}
	if got, want := f.rec.Status(), "Paused (elapsed 00:00, retained 1)"; got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}

	f.rec.Refresh()
	d.flush()
	if got := f.rec.Status(); !strings.HasPrefix(got, "Paused") {
		t.Fatalf("refresh while paused changed status to %q", got)
	}
}

func TestStartArgumentsOverrideSettings(t *testing.T) {
	f := newFixture(t)

	if err := f.rec.Start(context.Background(), "Terminal", 2*time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gate.await(t)

	snap := f.rec.Snapshot()
	if snap.Window != 9 {
		t.Fatalf("window = %v, want 0x9", snap.Window)
	}
	if snap.Interval != 2*time.Second {
		t.Fatalf("interval = %v, want 2s", snap.Interval)
	}
}

func TestStartFailureBecomesErrorStatus(t *testing.T) {
	f := newFixture(t)

	err := f.rec.Start(context.Background(), "Nonexistent", 0)
	if err == nil {
		t.Fatalf("expected start error")
	}
	if got := f.rec.Status(); !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, "not found") {
		t.Fatalf("unexpected status %q", got)
	}

	f.rec.Stop()
	if got := f.rec.Status(); got != StatusIdle {
		t.Fatalf("status after stop from failed = %q", got)
	}
}

func TestTickErrorStatus(t *testing.T) {
	f := newFixture(t)

	if err := f.rec.Start(context.Background(), "", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gate.await(t)

	f.source.fail(errors.New("device lost"))
	f.gate.step(t)

	if got := f.rec.Status(); got != "Capture error: device lost" {
		t.Fatalf("status = %q", got)
	}
}

func TestUnconfirmedOutputStatus(t *testing.T) {
	f := newFixture(t)
	f.encoders.Template.EmptyOutput = true

	if err := f.rec.Start(context.Background(), "", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gate.await(t)

	res := f.rec.Stop()
	if !video.IsKind(res.Err, video.IncompleteOutput) {
		t.Fatalf("expected incomplete output, got %v", res.Err)
	}
	if got := f.rec.Status(); !strings.HasPrefix(got, "Stopped, but output not confirmed: ") {
		t.Fatalf("status = %q", got)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []string
	cancel := f.rec.Subscribe(func(s string) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := f.rec.Start(context.Background(), "", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.gate.await(t)
	cancel()
	f.rec.Pause()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || !strings.HasPrefix(seen[0], "Recording") {
		t.Fatalf("unexpected statuses %q", seen)
	}
	for _, s := range seen {
		if strings.HasPrefix(s, "Paused") {
			t.Fatalf("status delivered after unsubscribe: %q", s)
		}
	}
}

func TestWindowsAreCached(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		list, err := f.rec.Windows(false)
		if err != nil {
			t.Fatalf("windows: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 windows, got %d", len(list))
		}
	}
	if f.locator.lists != 1 {
		t.Fatalf("expected one enumeration, got %d", f.locator.lists)
	}

	if err := f.rec.Execute(context.Background(), CommandRefreshWindow); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.locator.lists != 2 {
		t.Fatalf("refresh command did not enumerate again")
	}
}

func TestExecuteCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.rec.Execute(ctx, CommandStart); err != nil {
		t.Fatalf("start command: %v", err)
	}
	f.gate.await(t)
	if err := f.rec.Execute(ctx, CommandPause); err != nil {
		t.Fatalf("pause command: %v", err)
	}
	if st := f.rec.Snapshot().State; st != session.Paused {
		t.Fatalf("state = %v, want paused", st)
	}
	if err := f.rec.Execute(ctx, CommandToggle); err != nil {
		t.Fatalf("toggle command: %v", err)
	}
	f.gate.await(t)
	if st := f.rec.Snapshot().State; st != session.Running {
		t.Fatalf("state = %v, want running", st)
	}
	if err := f.rec.Execute(ctx, CommandStop); err != nil {
		t.Fatalf("stop command: %v", err)
	}
	if st := f.rec.Snapshot().State; st != session.Idle {
		t.Fatalf("state = %v, want idle", st)
	}

	err := f.rec.Execute(ctx, "SelfDestructCommand")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestCommandsSorted(t *testing.T) {
	names := Commands()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("commands not sorted: %v", names)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{59 * time.Second, "00:59"},
		{61*time.Second + 900*time.Millisecond, "01:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tc := range cases {
		if got := FormatElapsed(tc.in); got != tc.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
