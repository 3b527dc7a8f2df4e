// Package frame holds the raw pixel buffer passed between capture sources,
// change detection and the video sink.
package frame

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// BytesPerPixel is the channel count of the canonical BGRA layout.
const BytesPerPixel = 4

// Frame is a tightly packed pixel buffer. Channels is 4 (BGRA) for every
// frame produced in this module; other counts only come from foreign sources
// and are compared as "not equal".
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// New allocates a zeroed BGRA frame.
func New(width, height int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: BytesPerPixel,
		Pix:      make([]byte, width*height*BytesPerPixel),
	}
}

// Size returns the frame dimensions as a point.
func (f *Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// SameSize reports whether both frames have identical dimensions.
func (f *Frame) SameSize(other *Frame) bool {
	return other != nil && f.Width == other.Width && f.Height == other.Height
}

// Validate checks that Pix is large enough for the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) < want {
		return fmt.Errorf("frame buffer too small: have %d bytes, want %d", len(f.Pix), want)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Channels: f.Channels, Pix: pix}
}

// FromBGRX builds a frame from rows of 32-bit BGRX/BGRA pixels with the given
// stride, forcing alpha to opaque. X11 ZPixmap replies and GStreamer BGRA
// buffers both use this layout.
func FromBGRX(data []byte, width, height, stride int) *Frame {
	f := New(width, height)
	row := width * BytesPerPixel
	for y := 0; y < height; y++ {
		src := y * stride
		if src+row > len(data) {
			break
		}
		dst := y * row
		copy(f.Pix[dst:dst+row], data[src:src+row])
		for i := dst + 3; i < dst+row; i += BytesPerPixel {
			f.Pix[i] = 0xff
		}
	}
	return f
}

// FromImage converts any image into a BGRA frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	f := New(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+f.Width*4]
		dst := f.Pix[y*f.Width*4 : (y+1)*f.Width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], src[i+3]
		}
	}
	return f
}

// Scale resamples the frame to width x height. Used when a source image does
// not match the encoder's fixed size.
func (f *Frame) Scale(width, height int) *Frame {
	if f.Width == width && f.Height == height {
		return f.Clone()
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.ToRGBA(), image.Rect(0, 0, f.Width, f.Height), draw.Src, nil)
	return FromImage(dst)
}

// ToRGBA converts a BGRA frame into an *image.RGBA for JPEG/PNG encoding.
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	if f.Channels != BytesPerPixel {
		return img
	}
	n := f.Width * f.Height * BytesPerPixel
	for i := 0; i+3 < n && i+3 < len(f.Pix); i += BytesPerPixel {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = f.Pix[i+2], f.Pix[i+1], f.Pix[i], f.Pix[i+3]
	}
	return img
}
