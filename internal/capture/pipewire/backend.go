// Package pipewire implements compositor capture through the
// xdg-desktop-portal ScreenCast interface and a GStreamer appsink.
package pipewire

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// Backend negotiates a window screencast with the portal and streams it
// through a Pipeline. The portal chooses the window, so the target handle
// is only used for logging.
type Backend struct {
	tokenPath string
	log       zerolog.Logger

	mu       sync.Mutex
	portal   *Portal
	pipeline *Pipeline
}

// NewBackend creates a backend storing its restore token at tokenPath.
func NewBackend(tokenPath string, log zerolog.Logger) *Backend {
	if tokenPath == "" {
		tokenPath = DefaultTokenPath()
	}
	return &Backend{tokenPath: tokenPath, log: log}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "pipewire"
}

// Start opens a portal session and starts the pipeline.
func (b *Backend) Start(target window.Handle, deliver func(*frame.Frame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pipeline != nil {
		return fmt.Errorf("backend already started")
	}

	b.log.Info().Stringer("window", target).Msg("Requesting window screencast from portal")

	portal, err := NewPortal(b.tokenPath, b.log)
	if err != nil {
		return fmt.Errorf("failed to create portal: %w", err)
	}
	if err := portal.StartScreenCast(SourceTypeWindow); err != nil {
		portal.Close()
		return fmt.Errorf("failed to start screen cast: %w", err)
	}

	pipeline := NewPipeline(portal.NodeID(), deliver, b.log)
	if err := pipeline.Start(); err != nil {
		portal.Close()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	b.portal = portal
	b.pipeline = pipeline
	return nil
}

// TryPull performs one manual pull from the appsink queue.
func (b *Backend) TryPull() (*frame.Frame, bool) {
	b.mu.Lock()
	pipeline := b.pipeline
	b.mu.Unlock()
	if pipeline == nil {
		return nil, false
	}
	return pipeline.TryPull()
}

// Stop stops the pipeline and closes the portal session.
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pipeline != nil {
		b.pipeline.Stop()
		b.pipeline = nil
	}
	if b.portal != nil {
		if err := b.portal.Close(); err != nil {
			b.log.Debug().Err(err).Msg("Failed to close portal")
		}
		b.portal = nil
	}
	return nil
}
