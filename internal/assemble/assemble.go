// Package assemble turns a folder of numbered still images into a video
// of a requested duration, using the same sink and verification as live
// capture.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
)

// DefaultOutputName is written inside the image folder.
const DefaultOutputName = "output.mp4"

var (
	ErrNoImages        = errors.New("no image files found")
	ErrInvalidDuration = errors.New("video duration must be positive")
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// Progress reports how many source images have been encoded.
type Progress struct {
	Done  int
	Total int
}

// Percent returns completion in the range 0..100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total) * 100
}

// Options configures Assemble.
type Options struct {
	Dir      string
	Duration time.Duration
	// Output defaults to Dir/output.mp4.
	Output      string
	Encoder     video.Encoder
	SettleDelay time.Duration
	Progress    func(Progress)
	Log         zerolog.Logger
}

// Result describes the assembled video.
type Result struct {
	File      video.FileInfo
	Images    int
	FPS       float64
	OutputFPS int
}

// SequenceNumber extracts the number after the last underscore in a file
// name, e.g. 12 for "frame_12.png".
func SequenceNumber(name string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := strings.LastIndexByte(base, '_')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListImages returns the image files in dir ordered by sequence number.
// Files without a number sort after numbered ones, by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, aok := SequenceNumber(files[i])
		b, bok := SequenceNumber(files[j])
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		}
		return files[i] < files[j]
	})
	return files, nil
}

// frameRate picks an integer encoder rate no lower than fps so every image
// gets at least one frame.
func frameRate(fps float64) int {
	r := int(math.Ceil(fps - 1e-9))
	if r < 1 {
		r = 1
	}
	return r
}

// repeats returns how many encoder frames image i occupies so the video
// keeps the requested duration at rate out.
func repeats(i int, fps float64, out int) int {
	ratio := float64(out) / fps
	return int(math.Round(float64(i+1)*ratio)) - int(math.Round(float64(i)*ratio))
}

// Assemble encodes every image in opts.Dir, in sequence order, into a video
// lasting opts.Duration. Images whose size differs from the first are
// scaled. On cancellation the partial output is removed.
func Assemble(ctx context.Context, opts Options) (Result, error) {
	if opts.Duration <= 0 {
		return Result{}, ErrInvalidDuration
	}
	if opts.Encoder == nil {
		return Result{}, errors.New("assemble: encoder is required")
	}

	files, err := ListImages(opts.Dir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list images: %w", err)
	}
	if len(files) == 0 {
		return Result{}, fmt.Errorf("%w in %s", ErrNoImages, opts.Dir)
	}

	out := opts.Output
	if out == "" {
		out = filepath.Join(opts.Dir, DefaultOutputName)
	}

	res := Result{
		Images: len(files),
		FPS:    float64(len(files)) / opts.Duration.Seconds(),
	}
	res.OutputFPS = frameRate(res.FPS)

	first, err := load(files[0])
	if err != nil {
		return res, err
	}

	sink := video.NewSink(opts.Encoder, video.SinkOptions{SettleDelay: opts.SettleDelay, Log: opts.Log})
	if err := sink.Open(out, first.Width, first.Height, res.OutputFPS); err != nil {
		return res, err
	}

	opts.Log.Info().
		Str("dir", opts.Dir).
		Int("images", len(files)).
		Float64("fps", res.FPS).
		Int("output_fps", res.OutputFPS).
		Str("output", out).
		Msg("assembling video")

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			sink.Finalize()
			os.Remove(out)
			return res, err
		}

		f := first
		if i > 0 {
			if f, err = load(path); err != nil {
				sink.Finalize()
				os.Remove(out)
				return res, err
			}
		}
		if f.Width != first.Width || f.Height != first.Height {
			f = f.Scale(first.Width, first.Height)
		}

		for n := repeats(i, res.FPS, res.OutputFPS); n > 0; n-- {
			if err := sink.Write(f); err != nil {
				sink.Finalize()
				os.Remove(out)
				return res, err
			}
		}
		if opts.Progress != nil {
			opts.Progress(Progress{Done: i + 1, Total: len(files)})
		}
	}

	info, err := sink.Finalize()
	res.File = info
	if err != nil {
		return res, err
	}
	opts.Log.Info().Str("output", info.Path).Int64("size", info.Size).Int("frames", info.Frames).Msg("video assembled")
	return res, nil
}

func load(path string) (*frame.Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return frame.FromImage(img), nil
}
