package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// Selector routes captures through the compositor when it initialized and
// through the legacy source otherwise. A compositor miss is retried on the
// legacy path in the same call and never surfaces as an error.
type Selector struct {
	legacy     Source
	compositor *CompositorSource
	log        zerolog.Logger

	mu   sync.RWMutex
	mode Mode
}

// NewSelector creates a selector. compositor may be nil.
func NewSelector(legacy Source, compositor *CompositorSource, log zerolog.Logger) *Selector {
	return &Selector{
		legacy:     legacy,
		compositor: compositor,
		log:        log,
		mode:       ModeNone,
	}
}

// Init picks the path for a session. When preferCompositor is set it tries
// the compositor first; failure downgrades to legacy for the whole session.
// It returns true if the compositor path is active.
func (s *Selector) Init(ctx context.Context, target window.Handle, preferCompositor bool) bool {
	useCompositor := false
	if preferCompositor && s.compositor != nil {
		useCompositor = s.compositor.Initialize(ctx, target)
		if !useCompositor {
			s.log.Warn().Stringer("window", target).Msg("compositor capture unavailable, using legacy capture for this session")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if useCompositor {
		s.mode = ModeCompositor
	} else {
		s.mode = ModeLegacy
	}
	s.log.Info().Str("mode", string(s.mode)).Stringer("window", target).Msg("capture path selected")
	return useCompositor
}

// Mode returns the active path.
func (s *Selector) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Name implements Source.
func (s *Selector) Name() string {
	return "selector/" + string(s.Mode())
}

// Capture implements Source.
func (s *Selector) Capture(h window.Handle) (*frame.Frame, error) {
	if s.Mode() == ModeCompositor {
		f, err := s.compositor.Capture(h)
		if err == nil {
			return f, nil
		}
		if errors.Is(err, ErrNoFrame) {
			s.log.Debug().Msg("compositor has no frame yet, falling back to legacy capture")
		} else {
			s.log.Warn().Err(err).Msg("compositor capture failed, falling back to legacy capture")
		}
	}
	if s.legacy == nil {
		return nil, &Error{Kind: NativeAPIFailure, Op: "capture", Err: fmt.Errorf("no legacy capture source")}
	}
	return s.legacy.Capture(h)
}

// Close stops the compositor path, if any, and resets the mode.
func (s *Selector) Close() {
	s.mu.Lock()
	mode := s.mode
	s.mode = ModeNone
	s.mu.Unlock()

	if mode == ModeCompositor && s.compositor != nil {
		s.compositor.Stop()
	}
}
