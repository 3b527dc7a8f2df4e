// Package video turns retained frames into an MP4 file.
package video

// Encoder is the codec/muxer behind a Sink. Frames are tightly packed BGRA
// buffers of the size given to Begin.
type Encoder interface {
	Begin(path string, width, height, fps int) error
	EncodeFrame(pix []byte) error
	End() error
	Name() string
}

// EncoderFactory creates a fresh encoder per output file.
type EncoderFactory func() Encoder
