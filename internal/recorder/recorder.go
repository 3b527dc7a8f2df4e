// Package recorder is the public facade over a capture session. It turns
// session events into a human readable status string, marshals status
// updates onto a single owning goroutine and exposes the named command
// surface used by hotkeys and the control API.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/session"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// StatusListener receives every status change.
type StatusListener func(status string)

// Options configures a Recorder. Session.Listener is owned by the Recorder
// and is overwritten.
type Options struct {
	Session    session.Options
	Dispatcher Dispatcher
	// Settings supplies the capture settings read at each start. Start
	// arguments override the window title and interval.
	Settings func() session.Config
	Log      zerolog.Logger
}

// Recorder coordinates a single capture session.
type Recorder struct {
	session    *session.Session
	locator    window.Locator
	dispatcher Dispatcher
	settings   func() session.Config
	log        zerolog.Logger

	mu        sync.Mutex
	status    string
	finalized bool
	nextSub   int
	subs      map[int]StatusListener
	windows   []window.Info
}

// New builds a Recorder and its session.
func New(opts Options) (*Recorder, error) {
	r := &Recorder{
		locator:    opts.Session.Locator,
		dispatcher: opts.Dispatcher,
		settings:   opts.Settings,
		log:        opts.Log,
		status:     StatusIdle,
		subs:       make(map[int]StatusListener),
	}
	if r.dispatcher == nil {
		r.dispatcher = InlineDispatcher{}
	}
	if r.settings == nil {
		r.settings = func() session.Config { return session.Config{} }
	}

	sopts := opts.Session
	sopts.Listener = r.onEvent
	s, err := session.New(sopts)
	if err != nil {
		return nil, err
	}
	r.session = s
	return r, nil
}

// Start begins or resumes capture of the window whose title matches title.
// An empty title or non-positive interval falls back to the configured
// settings. Errors are also reflected in the status.
func (r *Recorder) Start(ctx context.Context, title string, interval time.Duration) error {
	cfg := r.settings()
	if title != "" {
		cfg.WindowTitle = title
	}
	if interval > 0 {
		cfg.Interval = interval
	}

	r.log.Info().Str("window_title", cfg.WindowTitle).Dur("interval", cfg.Interval).Msg("start requested")
	return r.session.Start(ctx, cfg)
}

// Pause suspends capture, keeping the output open for a later Start.
func (r *Recorder) Pause() bool {
	r.log.Info().Msg("pause requested")
	return r.session.Pause()
}

// Stop ends capture and finalizes the video.
func (r *Recorder) Stop() session.StopResult {
	r.log.Info().Msg("stop requested")
	return r.session.Stop()
}

// Toggle pauses a running capture or starts/resumes otherwise.
func (r *Recorder) Toggle(ctx context.Context) error {
	if r.session.State() == session.Running {
		r.Pause()
		return nil
	}
	return r.Start(ctx, "", 0)
}

// Status returns the current status text.
func (r *Recorder) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot returns the session's read-only counters.
func (r *Recorder) Snapshot() session.Snapshot {
	return r.session.Snapshot()
}

// Refresh recomputes the progress status from a fresh snapshot. Called
// periodically so elapsed time advances between capture ticks. The snapshot
// is taken on the dispatcher so a pause queued earlier is never overwritten.
func (r *Recorder) Refresh() {
	r.dispatch(func() {
		snap := r.session.Snapshot()
		if snap.State == session.Running {
			r.setStatus(progressStatus(snap))
		}
	})
}

// Run drives the periodic status refresh until ctx is done.
func (r *Recorder) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Refresh()
		}
	}
}

// Subscribe registers fn for status changes. The returned function removes
// the subscription.
func (r *Recorder) Subscribe(fn StatusListener) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Windows lists capturable windows. The list is cached until refresh is
// requested.
func (r *Recorder) Windows(refresh bool) ([]window.Info, error) {
	r.mu.Lock()
	cached := r.windows
	r.mu.Unlock()
	if cached != nil && !refresh {
		return append([]window.Info(nil), cached...), nil
	}

	list, err := r.locator.ListWindows()
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []window.Info{}
	}
	r.mu.Lock()
	r.windows = list
	r.mu.Unlock()
	r.log.Debug().Int("count", len(list)).Msg("window list refreshed")
	return append([]window.Info(nil), list...), nil
}

// Close stops any active capture.
func (r *Recorder) Close() error {
	res := r.Stop()
	if res.Err != nil {
		return res.Err
	}
	return nil
}

// onEvent runs on whichever goroutine the session emits from and only
// hands work to the dispatcher.
func (r *Recorder) onEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChanged:
		snap, err := ev.Snapshot, ev.Err
		r.dispatch(func() { r.applyState(snap, err) })
	case session.EventProgress:
		snap := ev.Snapshot
		r.dispatch(func() {
			if snap.State == session.Running {
				r.setStatus(progressStatus(snap))
			}
		})
	case session.EventTickError:
		err := ev.Err
		r.dispatch(func() { r.setStatus(captureErrorStatus(err)) })
	case session.EventFinalized:
		file, err := ev.File, ev.Err
		r.dispatch(func() {
			r.mu.Lock()
			r.finalized = true
			r.mu.Unlock()
			r.setStatus(finalizedStatus(file, err))
		})
	}
}

func (r *Recorder) applyState(snap session.Snapshot, err error) {
	switch snap.State {
	case session.Starting:
		r.mu.Lock()
		r.finalized = false
		r.mu.Unlock()
	case session.Running, session.Paused:
		r.setStatus(progressStatus(snap))
	case session.Failed:
		if err == nil {
			err = errors.New(snap.LastError)
		}
		r.setStatus(errorStatus(err))
	case session.Idle:
		r.mu.Lock()
		done := r.finalized
		r.mu.Unlock()
		if !done {
			r.setStatus(StatusIdle)
		}
	}
}

func (r *Recorder) dispatch(fn func()) {
	r.dispatcher.Dispatch(fn)
}

func (r *Recorder) setStatus(status string) {
	r.mu.Lock()
	if r.status == status {
		r.mu.Unlock()
		return
	}
	r.status = status
	subs := make([]StatusListener, 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}
