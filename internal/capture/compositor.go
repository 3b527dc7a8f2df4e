package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

const (
	defaultWarmupPolls    = 10
	defaultWarmupInterval = 100 * time.Millisecond
)

// ErrBackendUnavailable is returned when no compositor backend is configured.
var ErrBackendUnavailable = errors.New("compositor backend unavailable")

// CompositorSource adapts a push-based Backend to the pull-based Source
// contract. The backend's delivery thread and the capture caller meet only
// at the latest-frame slot, guarded by mu; newer frames overwrite older ones.
type CompositorSource struct {
	backend Backend
	log     zerolog.Logger

	// WarmupPolls and WarmupInterval bound the wait for a first frame.
	WarmupPolls    int
	WarmupInterval time.Duration

	mu      sync.Mutex
	latest  *frame.Frame
	started bool
}

// NewCompositorSource wraps backend. A nil backend yields a source whose
// Initialize always fails.
func NewCompositorSource(backend Backend, log zerolog.Logger) *CompositorSource {
	return &CompositorSource{
		backend:        backend,
		log:            log,
		WarmupPolls:    defaultWarmupPolls,
		WarmupInterval: defaultWarmupInterval,
	}
}

// Name implements Source.
func (c *CompositorSource) Name() string {
	if c.backend == nil {
		return "compositor"
	}
	return "compositor/" + c.backend.Name()
}

// Initialize starts the backend for target and waits for the first frame.
// It returns false, with the backend stopped again, if the backend fails to
// start or delivers nothing within the warm-up window.
func (c *CompositorSource) Initialize(ctx context.Context, target window.Handle) bool {
	if c.backend == nil {
		c.log.Debug().Err(ErrBackendUnavailable).Msg("compositor capture skipped")
		return false
	}

	c.mu.Lock()
	c.latest = nil
	c.mu.Unlock()

	if err := c.backend.Start(target, c.deliver); err != nil {
		c.log.Warn().Err(err).Str("backend", c.backend.Name()).Msg("compositor capture failed to start")
		return false
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	for i := 0; i < c.WarmupPolls; i++ {
		if c.hasFrame() {
			c.log.Info().Str("backend", c.backend.Name()).Int("polls", i).Msg("compositor capture delivering frames")
			return true
		}
		if f, ok := c.backend.TryPull(); ok && f != nil {
			c.deliver(f)
			continue
		}
		select {
		case <-ctx.Done():
			c.Stop()
			return false
		case <-time.After(c.WarmupInterval):
		}
	}
	if c.hasFrame() {
		return true
	}

	c.log.Warn().
		Str("backend", c.backend.Name()).
		Dur("waited", time.Duration(c.WarmupPolls)*c.WarmupInterval).
		Msg("compositor capture produced no frame during warm-up")
	c.Stop()
	return false
}

// deliver is the backend callback. It runs on a thread owned by the backend.
func (c *CompositorSource) deliver(f *frame.Frame) {
	if f == nil {
		return
	}
	c.mu.Lock()
	c.latest = f
	c.mu.Unlock()
}

func (c *CompositorSource) hasFrame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest != nil
}

// Capture returns a copy of the most recently delivered frame, else one
// manual pull from the backend, else ErrNoFrame. The handle is fixed at
// Initialize.
func (c *CompositorSource) Capture(window.Handle) (*frame.Frame, error) {
	c.mu.Lock()
	started := c.started
	latest := c.latest
	c.mu.Unlock()

	if !started {
		return nil, ErrNoFrame
	}
	if latest != nil {
		return latest.Clone(), nil
	}
	if f, ok := c.backend.TryPull(); ok && f != nil {
		c.deliver(f)
		return f.Clone(), nil
	}
	return nil, ErrNoFrame
}

// Stop stops the backend. Safe to call repeatedly.
func (c *CompositorSource) Stop() {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.latest = nil
	c.mu.Unlock()

	if !started || c.backend == nil {
		return
	}
	if err := c.backend.Stop(); err != nil {
		c.log.Warn().Err(err).Str("backend", c.backend.Name()).Msg("failed to stop compositor backend")
	}
}
