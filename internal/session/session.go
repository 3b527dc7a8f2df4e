// Package session runs one capture at a time through its lifecycle:
// Idle, Starting, Running, Paused, Stopping and Failed.
//
// A Session owns a worker goroutine per Running lease. The worker is the
// only writer to the video sink and the only reader of the last retained
// frame; other goroutines see progress through Snapshot, which copies the
// counters under a short lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/capture"
	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/output"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// DefaultErrorBackoff is the pause after a failed tick.
const DefaultErrorBackoff = time.Second

// ErrNoEncoder is returned when Options carries no encoder factory.
var ErrNoEncoder = errors.New("no encoder factory configured")

// Options wires a Session to its collaborators.
type Options struct {
	Locator    window.Locator
	Legacy     capture.Source
	Compositor capture.Backend
	Encoders   video.EncoderFactory
	Preview    output.Output
	Listener   Listener
	Log        zerolog.Logger

	Clock        func() time.Time
	Sleeper      func(context.Context, time.Duration) error
	ErrorBackoff time.Duration
	SettleDelay  time.Duration

	// Compositor warm-up bounds, zero keeps the capture package defaults.
	WarmupPolls    int
	WarmupInterval time.Duration
}

// Session is a single capture state machine. Start, Pause and Stop are
// serialized and may be called from any goroutine.
type Session struct {
	locator  window.Locator
	selector *capture.Selector
	encoders video.EncoderFactory
	preview  output.Output
	listener Listener
	log      zerolog.Logger
	clock    func() time.Time
	sleeper  func(context.Context, time.Duration) error
	backoff  time.Duration
	settle   time.Duration

	cmdMu   sync.Mutex
	emitMu  sync.Mutex // orders snapshots with the events carrying them
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu          sync.Mutex
	state       State
	cfg         Config
	id          string
	initialized bool
	frameNumber uint64
	savedCount  uint64
	hasRetained bool
	outputPath  string
	handle      window.Handle
	elapsed     time.Duration
	leaseStart  time.Time
	lastErr     error

	// worker-owned between Start and the worker's exit
	sink         *video.Sink
	lastRetained *frame.Frame
	firstFrame   bool
}

// New creates an idle session.
func New(opts Options) (*Session, error) {
	if opts.Locator == nil {
		return nil, errors.New("session: window locator is required")
	}
	if opts.Legacy == nil {
		return nil, errors.New("session: legacy capture source is required")
	}
	if opts.Encoders == nil {
		return nil, ErrNoEncoder
	}

	var compositor *capture.CompositorSource
	if opts.Compositor != nil {
		compositor = capture.NewCompositorSource(opts.Compositor, opts.Log.With().Str("component", "compositor").Logger())
		if opts.WarmupPolls > 0 {
			compositor.WarmupPolls = opts.WarmupPolls
		}
		if opts.WarmupInterval > 0 {
			compositor.WarmupInterval = opts.WarmupInterval
		}
	}

	s := &Session{
		locator:  opts.Locator,
		selector: capture.NewSelector(opts.Legacy, compositor, opts.Log.With().Str("component", "capture-selector").Logger()),
		encoders: opts.Encoders,
		preview:  opts.Preview,
		listener: opts.Listener,
		log:      opts.Log,
		clock:    opts.Clock,
		sleeper:  opts.Sleeper,
		backoff:  opts.ErrorBackoff,
		settle:   opts.SettleDelay,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.sleeper == nil {
		s.sleeper = sleepContext
	}
	if s.backoff <= 0 {
		s.backoff = DefaultErrorBackoff
	}
	if s.settle <= 0 {
		s.settle = video.DefaultSettleDelay
	}
	return s, nil
}

// Start begins or resumes capturing. While running it is a no-op. When the
// session is paused it resumes into the same output file and cfg is
// ignored; otherwise cfg is validated and first-time setup runs: window
// lookup, output path, compositor warm-up and a probe capture that fixes
// the encoder size. Any setup error leaves the session Failed and no
// worker is started.
func (s *Session) Start(ctx context.Context, cfg Config) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.running.Load() {
		s.log.Warn().Str("window_title", cfg.WindowTitle).Msg("capture already running, start ignored")
		return nil
	}

	s.mu.Lock()
	initialized := s.initialized
	active := s.cfg
	s.mu.Unlock()

	if initialized {
		if cfg.WindowTitle != "" && (cfg.WindowTitle != active.WindowTitle || (cfg.Interval > 0 && cfg.Interval != active.Interval)) {
			s.log.Warn().
				Str("window_title", cfg.WindowTitle).
				Dur("interval", cfg.Interval).
				Str("active_window_title", active.WindowTitle).
				Dur("active_interval", active.Interval).
				Msg("resuming paused session with its original settings")
		}
		s.launch()
		return nil
	}

	s.setState(Starting, nil)
	if err := s.initialize(ctx, cfg); err != nil {
		s.fail(err)
		return err
	}
	s.launch()
	return nil
}

// initialize performs first-time setup. On error everything it acquired
// has been released again.
func (s *Session) initialize(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	handle, err := s.locator.FindWindowByTitle(cfg.WindowTitle, cfg.ExactMatch)
	if err != nil {
		return &capture.Error{Kind: capture.WindowNotFound, Op: fmt.Sprintf("find window %q", cfg.WindowTitle), Err: err}
	}

	path, err := video.UniquePath(cfg.OutputDir, cfg.BaseName, ".mp4", s.clock())
	if err != nil {
		return err
	}

	s.selector.Init(ctx, handle, cfg.UseCompositor)

	probe, err := s.selector.Capture(handle)
	if err != nil {
		s.selector.Close()
		return fmt.Errorf("probe capture failed: %w", err)
	}

	sink := video.NewSink(s.encoders(), video.SinkOptions{
		SettleDelay: s.settle,
		Log:         s.log.With().Str("component", "video-sink").Logger(),
	})
	if err := sink.Open(path, probe.Width, probe.Height, cfg.FPS); err != nil {
		s.selector.Close()
		return err
	}

	id := uuid.NewString()
	s.sink = sink
	s.lastRetained = nil
	s.firstFrame = true

	s.mu.Lock()
	s.id = id
	s.cfg = cfg
	s.handle = handle
	s.outputPath = path
	s.initialized = true
	s.frameNumber = 0
	s.savedCount = 0
	s.hasRetained = false
	s.elapsed = 0
	s.mu.Unlock()

	s.log.Info().
		Str("session", id).
		Str("window_title", cfg.WindowTitle).
		Stringer("window", handle).
		Str("output", path).
		Str("mode", string(s.selector.Mode())).
		Int("width", probe.Width).
		Int("height", probe.Height).
		Dur("interval", cfg.Interval).
		Msg("capture session initialized")
	return nil
}

// launch starts a new worker lease. Any previous worker has exited or is
// about to; it is awaited so there is never more than one writer.
func (s *Session) launch() {
	if s.done != nil {
		<-s.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.mu.Lock()
	handle := s.handle
	interval := s.cfg.Interval
	s.leaseStart = s.clock()
	s.mu.Unlock()

	s.running.Store(true)
	s.setState(Running, nil)
	go s.run(ctx, handle, interval, done)
}

// Pause stops the worker after its current tick and keeps the encoder open.
// It does not wait for the worker. Returns false when nothing was running.
func (s *Session) Pause() bool {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.running.Load() {
		s.log.Debug().Msg("pause ignored, capture not running")
		return false
	}
	s.running.Store(false)
	s.cancel()

	s.mu.Lock()
	s.elapsed += s.clock().Sub(s.leaseStart)
	s.mu.Unlock()

	s.setState(Paused, nil)
	return true
}

// Stop ends the session: the worker is stopped and awaited, compositor
// capture is released, the video is finalized and verified, and all
// session state is reset. A second Stop is a no-op.
func (s *Session) Stop() StopResult {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == Idle {
		return StopResult{}
	}
	if state == Failed {
		s.reset()
		s.setState(Idle, nil)
		return StopResult{}
	}

	if s.running.Load() {
		s.mu.Lock()
		s.elapsed += s.clock().Sub(s.leaseStart)
		s.mu.Unlock()
	}
	s.running.Store(false)
	s.setState(Stopping, nil)

	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}

	s.selector.Close()

	result := StopResult{Stopped: true, Snapshot: s.Snapshot()}
	if s.sink != nil && s.sink.IsOpen() {
		info, err := s.sink.Finalize()
		result.File = &info
		result.Err = err
		if err != nil {
			s.log.Warn().Err(err).Str("output", info.Path).Msg("capture stopped, but output not confirmed")
		} else {
			s.log.Info().Str("output", info.Path).Int64("size", info.Size).Uint64("retained", result.Snapshot.SavedCount).Msg("capture stopped, video saved")
		}
		s.emit(Event{Kind: EventFinalized, Snapshot: result.Snapshot, Err: err, File: result.File})
	}

	s.reset()
	s.setState(Idle, nil)
	return result
}

// reset returns every field to its zero value.
func (s *Session) reset() {
	s.cancel = nil
	s.done = nil
	s.sink = nil
	s.lastRetained = nil
	s.firstFrame = false

	s.mu.Lock()
	s.id = ""
	s.cfg = Config{}
	s.initialized = false
	s.frameNumber = 0
	s.savedCount = 0
	s.hasRetained = false
	s.outputPath = ""
	s.handle = 0
	s.elapsed = 0
	s.leaseStart = time.Time{}
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.log.Error().Err(err).Msg("capture failed to start")
	s.sink = nil
	s.lastRetained = nil
	s.firstFrame = false
	s.mu.Lock()
	s.initialized = false
	s.frameNumber = 0
	s.savedCount = 0
	s.hasRetained = false
	s.outputPath = ""
	s.handle = 0
	s.mu.Unlock()
	s.setState(Failed, err)
}

func (s *Session) setState(state State, err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.state = state
	if err != nil {
		s.lastErr = err
	} else if state == Starting {
		s.lastErr = nil
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug().Str("state", state.String()).Msg("session state changed")
	s.emit(Event{Kind: EventStateChanged, Snapshot: snap, Err: err})
}

func (s *Session) emit(ev Event) {
	if s.listener != nil {
		s.listener(ev)
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent copy of the session counters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:               s.id,
		State:            s.state,
		Running:          s.running.Load(),
		Initialized:      s.initialized,
		FrameNumber:      s.frameNumber,
		SavedCount:       s.savedCount,
		HasRetainedFrame: s.hasRetained,
		OutputPath:       s.outputPath,
		WindowTitle:      s.cfg.WindowTitle,
		Window:           s.handle,
		Interval:         s.cfg.Interval,
		Elapsed:          s.elapsed,
	}
	if s.initialized {
		snap.Mode = s.selector.Mode()
	}
	if s.state == Running && !s.leaseStart.IsZero() {
		snap.Elapsed += s.clock().Sub(s.leaseStart)
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
