package video

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// FFmpegOptions configures the ffmpeg subprocess encoder.
type FFmpegOptions struct {
	Binary string
	Codec  string
	Preset string
	CRF    int
}

// DefaultFFmpegOptions encodes H.264 in a yuv420p MP4 playable everywhere.
func DefaultFFmpegOptions() FFmpegOptions {
	return FFmpegOptions{
		Binary: "ffmpeg",
		Codec:  "libx264",
		Preset: "medium",
		CRF:    23,
	}
}

// FFmpegEncoder pipes raw BGRA frames into an ffmpeg process.
type FFmpegEncoder struct {
	opts FFmpegOptions
	log  zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	path   string
}

// NewFFmpegEncoder creates an encoder. Zero-valued options fall back to
// DefaultFFmpegOptions.
func NewFFmpegEncoder(opts FFmpegOptions, log zerolog.Logger) *FFmpegEncoder {
	def := DefaultFFmpegOptions()
	if opts.Binary == "" {
		opts.Binary = def.Binary
	}
	if opts.Codec == "" {
		opts.Codec = def.Codec
	}
	if opts.Preset == "" {
		opts.Preset = def.Preset
	}
	if opts.CRF <= 0 {
		opts.CRF = def.CRF
	}
	return &FFmpegEncoder{opts: opts, log: log}
}

// Name implements Encoder.
func (e *FFmpegEncoder) Name() string {
	return "ffmpeg/" + e.opts.Codec
}

// Args returns the ffmpeg command line for an output file.
func (e *FFmpegEncoder) Args(path string, width, height, fps int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-an",
		// yuv420p needs even dimensions
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", e.opts.Codec,
		"-preset", e.opts.Preset,
		"-crf", strconv.Itoa(e.opts.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		path,
	}
}

// Begin implements Encoder.
func (e *FFmpegEncoder) Begin(path string, width, height, fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return newError(AlreadyOpen, path, nil)
	}

	bin, err := exec.LookPath(e.opts.Binary)
	if err != nil {
		return newError(CodecUnavailable, path, fmt.Errorf("ffmpeg not found: %w", err))
	}

	cmd := exec.Command(bin, e.Args(path, width, height, fps)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(CodecUnavailable, path, err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return newError(CodecUnavailable, path, fmt.Errorf("failed to start ffmpeg: %w", err))
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stderr = stderr
	e.path = path
	e.log.Debug().
		Str("path", path).
		Int("width", width).
		Int("height", height).
		Int("fps", fps).
		Int("pid", cmd.Process.Pid).
		Msg("ffmpeg started")
	return nil
}

// EncodeFrame implements Encoder.
func (e *FFmpegEncoder) EncodeFrame(pix []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stdin == nil {
		return newError(NotOpen, "", nil)
	}
	if _, err := e.stdin.Write(pix); err != nil {
		return fmt.Errorf("failed to write frame to ffmpeg: %w%s", err, e.stderr.suffix())
	}
	return nil
}

// End closes stdin and waits for ffmpeg to flush and exit.
func (e *FFmpegEncoder) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return nil
	}
	var errs []error
	if err := e.stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close ffmpeg stdin: %w", err))
	}
	if err := e.cmd.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("ffmpeg exited: %w%s", err, e.stderr.suffix()))
	}
	e.log.Debug().Str("path", e.path).Msg("ffmpeg finished")

	e.cmd = nil
	e.stdin = nil
	e.path = ""
	return errors.Join(errs...)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) suffix() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(string(b.buf))
	if s == "" {
		return ""
	}
	return ": " + s
}
