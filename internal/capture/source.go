// Package capture acquires still images of a single target window.
//
// Two paths share the Source interface: a synchronous X11 blit and an
// asynchronous compositor stream whose frames land in a latest-frame slot.
// The Selector picks the compositor when it warms up and falls back to the
// blit path per call when the compositor has nothing to hand over.
package capture

import (
	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// Source acquires one frame of a window's content on demand.
type Source interface {
	// Capture returns a frame owned by the caller.
	Capture(h window.Handle) (*frame.Frame, error)

	// Name returns a human-readable name for this source.
	Name() string
}

// Backend is a platform compositor capture API. Start begins pushing frames
// into deliver from a thread the caller does not control; TryPull performs a
// single non-blocking manual pull from the backend's frame pool.
type Backend interface {
	Name() string
	Start(target window.Handle, deliver func(*frame.Frame)) error
	TryPull() (*frame.Frame, bool)
	Stop() error
}

// Mode identifies which path a Selector is currently routing through.
type Mode string

const (
	ModeNone       Mode = "none"
	ModeLegacy     Mode = "legacy"
	ModeCompositor Mode = "compositor"
)
