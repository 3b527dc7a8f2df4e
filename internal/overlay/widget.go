// Package overlay draws widgets onto preview frames. Recorded video is
// never annotated.
package overlay

import (
	"image"
	"sync"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Render draws the widget onto the provided image at its position
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// Position returns the widget's top-left corner.
func (w *BaseWidget) Position() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.x, w.y
}

// Opacity returns the widget's opacity.
func (w *BaseWidget) Opacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.mu.Lock()
	w.opacity = opacity
	w.mu.Unlock()
}

// BlendImage composites src onto dst at (x, y) with the given opacity,
// clipping to dst. Both images are straight-alpha RGBA.
func BlendImage(dst *image.RGBA, src *image.RGBA, x, y int, opacity float64) {
	sb := src.Bounds()
	db := dst.Bounds()

	for sy := sb.Min.Y; sy < sb.Max.Y; sy++ {
		dy := y + (sy - sb.Min.Y)
		if dy < db.Min.Y || dy >= db.Max.Y {
			continue
		}
		for sx := sb.Min.X; sx < sb.Max.X; sx++ {
			dx := x + (sx - sb.Min.X)
			if dx < db.Min.X || dx >= db.Max.X {
				continue
			}

			si := src.PixOffset(sx, sy)
			alpha := float64(src.Pix[si+3]) / 255 * opacity
			if alpha <= 0 {
				continue
			}
			di := dst.PixOffset(dx, dy)
			for c := 0; c < 3; c++ {
				dst.Pix[di+c] = uint8(float64(src.Pix[si+c])*alpha + float64(dst.Pix[di+c])*(1-alpha) + 0.5)
			}
			da := float64(dst.Pix[di+3]) / 255
			dst.Pix[di+3] = uint8((alpha+da*(1-alpha))*255 + 0.5)
		}
	}
}
