// Package output publishes captured frames outside the recorder, currently
// as a Motion JPEG preview stream.
package output

import "github.com/bryanchriswhite/WindowLapse/internal/frame"

// Output receives every captured frame, retained or not.
// WriteFrame must not block the capture worker.
type Output interface {
	Start() error
	Stop() error
	WriteFrame(f *frame.Frame) error
	Name() string
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	// MaxWidth downscales wider frames, 0 keeps the captured size.
	MaxWidth int
	Quality  int
}
