package video

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
)

// DefaultSettleDelay is the grace period between flushing the encoder and
// checking the output file.
const DefaultSettleDelay = 100 * time.Millisecond

// SinkOptions configures a Sink.
type SinkOptions struct {
	SettleDelay time.Duration
	Log         zerolog.Logger
}

// FileInfo describes a finalized video.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Frames  int       `json:"frames"`
	ModTime time.Time `json:"mod_time"`
}

// Sink owns one encoder and the file it writes. Frames are written in call
// order at a fixed frame rate; playback speed is decoupled from wall time.
type Sink struct {
	enc  Encoder
	opts SinkOptions

	mu     sync.Mutex
	open   bool
	path   string
	width  int
	height int
	fps    int
	frames int
}

// NewSink wraps enc.
func NewSink(enc Encoder, opts SinkOptions) *Sink {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Sink{enc: enc, opts: opts}
}

// Open starts encoding into path. The frame size is fixed until Finalize.
func (s *Sink) Open(path string, width, height, fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return newError(AlreadyOpen, s.path, nil)
	}
	if path == "" {
		return newError(InvalidPath, path, errors.New("empty output path"))
	}
	if st, err := os.Stat(filepath.Dir(path)); err != nil {
		return newError(InvalidPath, path, err)
	} else if !st.IsDir() {
		return newError(InvalidPath, path, fmt.Errorf("%s is not a directory", filepath.Dir(path)))
	}
	if width <= 0 || height <= 0 {
		return newError(InvalidDimensions, path, fmt.Errorf("frame size %dx%d", width, height))
	}
	if fps <= 0 {
		return newError(InvalidDimensions, path, fmt.Errorf("frame rate %d", fps))
	}

	if err := s.enc.Begin(path, width, height, fps); err != nil {
		var ee *EncoderError
		if errors.As(err, &ee) {
			return err
		}
		return newError(CodecUnavailable, path, err)
	}

	s.open = true
	s.path = path
	s.width = width
	s.height = height
	s.fps = fps
	s.frames = 0
	s.opts.Log.Info().
		Str("path", path).
		Str("encoder", s.enc.Name()).
		Int("width", width).
		Int("height", height).
		Int("fps", fps).
		Msg("video sink opened")
	return nil
}

// Write appends one frame. Frames that do not match the opened size are
// rejected rather than corrupting the stream.
func (s *Sink) Write(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return newError(NotOpen, "", nil)
	}
	if f == nil || f.Width != s.width || f.Height != s.height || f.Channels != frame.BytesPerPixel {
		return newError(FrameMismatch, s.path, mismatchDetail(f, s.width, s.height))
	}
	if err := f.Validate(); err != nil {
		return newError(FrameMismatch, s.path, err)
	}
	if err := s.enc.EncodeFrame(f.Pix[:s.width*s.height*frame.BytesPerPixel]); err != nil {
		return newError(WriteFailed, s.path, err)
	}
	s.frames++
	return nil
}

// Finalize flushes and closes the encoder, waits for the file system to
// settle, then verifies the output exists and is non-empty.
func (s *Sink) Finalize() (FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return FileInfo{}, newError(NotOpen, "", nil)
	}
	path, frames := s.path, s.frames
	endErr := s.enc.End()
	s.open = false
	s.path = ""
	s.frames = 0

	if s.opts.SettleDelay > 0 {
		time.Sleep(s.opts.SettleDelay)
	}

	info := FileInfo{Path: path, Frames: frames}
	st, err := os.Stat(path)
	switch {
	case err != nil:
		return info, newError(IncompleteOutput, path, errors.Join(endErr, err))
	case st.Size() == 0:
		return info, newError(IncompleteOutput, path, errors.Join(endErr, errors.New("output file is empty")))
	case endErr != nil:
		info.Size = st.Size()
		return info, newError(IncompleteOutput, path, endErr)
	}

	info.Size = st.Size()
	info.ModTime = st.ModTime()
	s.opts.Log.Info().
		Str("path", path).
		Int64("size", info.Size).
		Int("frames", frames).
		Msg("video finalized")
	return info, nil
}

// IsOpen reports whether an encoder is open.
func (s *Sink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Path returns the current output path, empty when closed.
func (s *Sink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Frames returns the number of frames written since Open.
func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Size returns the opened frame size.
func (s *Sink) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func mismatchDetail(f *frame.Frame, width, height int) error {
	if f == nil {
		return errors.New("nil frame")
	}
	return fmt.Errorf("got %dx%dx%d, want %dx%dx%d", f.Width, f.Height, f.Channels, width, height, frame.BytesPerPixel)
}
