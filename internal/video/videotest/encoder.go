// Package videotest provides an in-memory Encoder for tests.
package videotest

import (
	"errors"
	"os"
	"sync"
)

// Encoder records calls and writes a placeholder file so the sink's
// output verification can be exercised. With EmptyOutput set it leaves a
// zero-byte file behind, the failure a real muxer produces when it is cut
// off before writing its index.
type Encoder struct {
	BeginErr    error
	EncodeErr   error
	EmptyOutput bool

	mu      sync.Mutex
	path    string
	width   int
	height  int
	fps     int
	frames  int
	begins  int
	ends    int
	open    bool
	written [][]byte
}

// Name implements video.Encoder.
func (e *Encoder) Name() string { return "fake" }

// Begin implements video.Encoder.
func (e *Encoder) Begin(path string, width, height, fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BeginErr != nil {
		return e.BeginErr
	}
	if e.open {
		return errors.New("fake encoder already open")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	f.Close()
	e.open = true
	e.path = path
	e.width, e.height, e.fps = width, height, fps
	e.begins++
	return nil
}

// EncodeFrame implements video.Encoder.
func (e *Encoder) EncodeFrame(pix []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EncodeErr != nil {
		return e.EncodeErr
	}
	if !e.open {
		return errors.New("fake encoder not open")
	}
	cp := make([]byte, len(pix))
	copy(cp, pix)
	e.written = append(e.written, cp)
	e.frames++
	return nil
}

// End implements video.Encoder.
func (e *Encoder) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil
	}
	e.open = false
	e.ends++
	if e.EmptyOutput {
		return nil
	}
	return os.WriteFile(e.path, []byte("fake mp4 payload"), 0644)
}

// Frames returns the number of frames encoded so far.
func (e *Encoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Begins returns how many times Begin succeeded.
func (e *Encoder) Begins() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begins
}

// Ends returns how many open encoders were ended.
func (e *Encoder) Ends() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ends
}

// Path returns the last path passed to Begin.
func (e *Encoder) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Size returns the dimensions passed to Begin.
func (e *Encoder) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

// FPS returns the frame rate passed to Begin.
func (e *Encoder) FPS() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fps
}

// Written returns copies of the encoded frame buffers.
func (e *Encoder) Written() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.written))
	copy(out, e.written)
	return out
}

// Factory hands out encoders and remembers them.
type Factory struct {
	mu       sync.Mutex
	Template Encoder
	made     []*Encoder
}

// New returns a fresh encoder configured like Template.
func (f *Factory) New() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &Encoder{
		BeginErr:    f.Template.BeginErr,
		EncodeErr:   f.Template.EncodeErr,
		EmptyOutput: f.Template.EmptyOutput,
	}
	f.made = append(f.made, e)
	return e
}

// Made returns the encoders created so far.
func (f *Factory) Made() []*Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Encoder, len(f.made))
	copy(out, f.made)
	return out
}

// Last returns the most recent encoder, or nil.
func (f *Factory) Last() *Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}
