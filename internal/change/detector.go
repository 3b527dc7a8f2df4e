// Package change decides which captured frames are worth encoding.
//
// Retention is change-only: a frame is kept when it differs from the last
// kept frame, so the resulting video is a lossy timelapse of visible edits
// rather than a fixed-rate recording.
package change

import "github.com/bryanchriswhite/WindowLapse/internal/frame"

// Input bundles what the retention policy looks at for one candidate.
type Input struct {
	Previous    *frame.Frame
	Candidate   *frame.Frame
	EncoderOpen bool
	// FirstFrame is true for the first tick after the session initialized.
	FirstFrame bool
}

// ShouldRetain applies the retention policy in order: no encoder yet, first
// frame since initialization, no previous frame, size change, any non-zero
// grayscale difference.
func ShouldRetain(in Input) bool {
	switch {
	case !in.EncoderOpen:
		return true
	case in.FirstFrame:
		return true
	case in.Previous == nil:
		return true
	case !in.Previous.SameSize(in.Candidate):
		return true
	}
	return !Equal(in.Previous, in.Candidate)
}

// Equal reports whether two frames are identical under the grayscale
// absolute-difference test. Frames with different channel counts or
// malformed buffers are never equal.
func Equal(a, b *frame.Frame) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.SameSize(b) || a.Channels != b.Channels {
		return false
	}
	if a.Channels < 3 {
		return bytesEqual(a, b)
	}
	n := a.Width * a.Height
	step := a.Channels
	if len(a.Pix) < n*step || len(b.Pix) < n*step {
		return false
	}
	for i := 0; i < n*step; i += step {
		db := absDiff(a.Pix[i], b.Pix[i])
		dg := absDiff(a.Pix[i+1], b.Pix[i+1])
		dr := absDiff(a.Pix[i+2], b.Pix[i+2])
		if gray(db, dg, dr) != 0 {
			return false
		}
	}
	return true
}

// CountChanged returns the number of pixels whose grayscale difference is
// non-zero. Used for debug logging of retained frames.
func CountChanged(a, b *frame.Frame) int {
	if a == nil || b == nil || !a.SameSize(b) || a.Channels != b.Channels || a.Channels < 3 {
		return -1
	}
	n := a.Width * a.Height
	step := a.Channels
	if len(a.Pix) < n*step || len(b.Pix) < n*step {
		return -1
	}
	changed := 0
	for i := 0; i < n*step; i += step {
		if gray(absDiff(a.Pix[i], b.Pix[i]), absDiff(a.Pix[i+1], b.Pix[i+1]), absDiff(a.Pix[i+2], b.Pix[i+2])) != 0 {
			changed++
		}
	}
	return changed
}

func bytesEqual(a, b *frame.Frame) bool {
	n := a.Width * a.Height * a.Channels
	if len(a.Pix) < n || len(b.Pix) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if a.Pix[i] != b.Pix[i] {
			return false
		}
	}
	return true
}

func absDiff(x, y byte) byte {
	if x > y {
		return x - y
	}
	return y - x
}

// gray is the 14-bit fixed point BT.601 luma used by common BGR->GRAY
// conversions. Differences confined to a single low-weight channel can round
// to zero.
func gray(b, g, r byte) byte {
	return byte((uint32(b)*1868 + uint32(g)*9617 + uint32(r)*4899 + 8192) >> 14)
}
