package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bryanchriswhite/WindowLapse/internal/change"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// run is the worker loop for one Running lease. The running flag is checked
// at the top of every iteration; cancelling ctx cuts the sleep short.
func (s *Session) run(ctx context.Context, h window.Handle, interval time.Duration, done chan struct{}) {
	defer close(done)
	s.log.Debug().Stringer("window", h).Dur("interval", interval).Msg("capture worker started")

	for s.running.Load() {
		retained, err := s.tick(h)

		s.emitMu.Lock()
		s.mu.Lock()
		s.frameNumber++
		if retained {
			s.savedCount++
			s.hasRetained = true
		}
		if err != nil {
			s.lastErr = err
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		wait := interval
		if err != nil {
			s.log.Warn().Err(err).Uint64("frame", snap.FrameNumber).Dur("backoff", s.backoff).Msg("capture tick failed")
			s.emit(Event{Kind: EventTickError, Snapshot: snap, Err: err})
			wait = s.backoff
		} else {
			s.emit(Event{Kind: EventProgress, Snapshot: snap})
		}
		s.emitMu.Unlock()

		if err := s.sleeper(ctx, wait); err != nil {
			break
		}
	}
	s.log.Debug().Stringer("window", h).Msg("capture worker exited")
}

// tick captures one frame and writes it if the retention policy keeps it.
// Panics are turned into errors so the worker survives them.
func (s *Session) tick(h window.Handle) (retained bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("stack", string(debug.Stack())).Msg("capture tick panicked")
			retained, err = false, fmt.Errorf("capture tick panicked: %v", r)
		}
	}()

	f, err := s.selector.Capture(h)
	if err != nil {
		return false, err
	}

	if s.preview != nil && s.preview.IsRunning() {
		if err := s.preview.WriteFrame(f); err != nil {
			s.log.Debug().Err(err).Msg("preview write failed")
		}
	}

	keep := change.ShouldRetain(change.Input{
		Previous:    s.lastRetained,
		Candidate:   f,
		EncoderOpen: s.sink.IsOpen(),
		FirstFrame:  s.firstFrame,
	})
	if !keep {
		return false, nil
	}

	out := f
	if w, hgt := s.sink.Size(); f.Width != w || f.Height != hgt {
		s.log.Debug().
			Int("from_width", f.Width).Int("from_height", f.Height).
			Int("to_width", w).Int("to_height", hgt).
			Msg("window size changed, scaling frame to video size")
		out = f.Scale(w, hgt)
	}
	if err := s.sink.Write(out); err != nil {
		return false, fmt.Errorf("failed to write frame: %w", err)
	}

	s.lastRetained = f.Clone()
	s.firstFrame = false
	return true, nil
}
