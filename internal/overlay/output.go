package overlay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/output"
)

// clientCounter is implemented by outputs that can report idle viewers.
type clientCounter interface {
	HasClients() bool
}

// Output renders widgets onto each frame before passing it to the wrapped
// output. Frames are copied, so the caller's frame is never modified.
type Output struct {
	next output.Output
	log  zerolog.Logger

	mu      sync.RWMutex
	widgets []Widget
}

// NewOutput wraps next.
func NewOutput(next output.Output, log zerolog.Logger) *Output {
	return &Output{next: next, log: log}
}

// AddWidget appends w; widgets render in insertion order.
func (o *Output) AddWidget(w Widget) {
	o.mu.Lock()
	o.widgets = append(o.widgets, w)
	o.mu.Unlock()
}

// RemoveWidget removes the widget with id, reporting whether it existed.
func (o *Output) RemoveWidget(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, w := range o.widgets {
		if w.ID() == id {
			o.widgets = append(o.widgets[:i], o.widgets[i+1:]...)
			return true
		}
	}
	return false
}

// Start implements output.Output.
func (o *Output) Start() error { return o.next.Start() }

// Stop implements output.Output.
func (o *Output) Stop() error { return o.next.Stop() }

// Name implements output.Output.
func (o *Output) Name() string { return o.next.Name() + "+overlay" }

// IsRunning implements output.Output.
func (o *Output) IsRunning() bool { return o.next.IsRunning() }

// WriteFrame implements output.Output.
func (o *Output) WriteFrame(f *frame.Frame) error {
	if cc, ok := o.next.(clientCounter); ok && !cc.HasClients() {
		return o.next.WriteFrame(f)
	}

	o.mu.RLock()
	widgets := make([]Widget, 0, len(o.widgets))
	for _, w := range o.widgets {
		if w.IsEnabled() {
			widgets = append(widgets, w)
		}
	}
	o.mu.RUnlock()

	if len(widgets) == 0 || f.Channels != frame.BytesPerPixel {
		return o.next.WriteFrame(f)
	}

	img := f.ToRGBA()
	for _, w := range widgets {
		if err := w.Render(img); err != nil {
			o.log.Debug().Err(err).Str("widget", w.ID()).Msg("Failed to render widget")
		}
	}
	return o.next.WriteFrame(frame.FromImage(img))
}
