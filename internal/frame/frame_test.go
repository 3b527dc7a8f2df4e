package frame

import (
	"image"
	"image/color"
	"testing"
)

func TestCloneIsIndependent(t *testing.T) {
	f := New(2, 2)
	f.Pix[0] = 10

	c := f.Clone()
	c.Pix[0] = 99

	if f.Pix[0] != 10 {
		t.Fatalf("clone shares pixel storage with original")
	}
	if !c.SameSize(f) {
		t.Fatalf("clone changed size")
	}
}

func TestFromBGRXForcesOpaqueAlphaAndHonoursStride(t *testing.T) {
	// 2x2 image, stride 12 (one pad pixel per row)
	data := []byte{
		1, 2, 3, 0, 4, 5, 6, 0, 9, 9, 9, 9,
		7, 8, 9, 0, 10, 11, 12, 0, 9, 9, 9, 9,
	}
	f := FromBGRX(data, 2, 2, 12)

	want := []byte{1, 2, 3, 255, 4, 5, 6, 255, 7, 8, 9, 255, 10, 11, 12, 255}
	for i := range want {
		if f.Pix[i] != want[i] {
			t.Fatalf("pix[%d] = %d, want %d", i, f.Pix[i], want[i])
		}
	}
}

func TestImageRoundTripKeepsColours(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.RGBA{R: 200, G: 10, B: 30, A: 255})
	img.Set(2, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	f := FromImage(img)
	if f.Pix[0] != 30 || f.Pix[1] != 10 || f.Pix[2] != 200 {
		t.Fatalf("expected BGRA order, got %v", f.Pix[:4])
	}

	back := f.ToRGBA()
	if got := back.RGBAAt(2, 0); got != (color.RGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Fatalf("unexpected pixel after round trip: %+v", got)
	}
}

func TestFromImageHandlesOffsetBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(5, 5, 7, 6))
	img.Set(5, 5, color.RGBA{R: 9, A: 255})

	f := FromImage(img)
	if f.Width != 2 || f.Height != 1 {
		t.Fatalf("unexpected size %dx%d", f.Width, f.Height)
	}
	if f.Pix[2] != 9 {
		t.Fatalf("expected red channel carried over, got %v", f.Pix[:4])
	}
}

func TestScaleProducesRequestedSize(t *testing.T) {
	f := New(4, 4)
	s := f.Scale(2, 3)
	if s.Width != 2 || s.Height != 3 {
		t.Fatalf("unexpected size %dx%d", s.Width, s.Height)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("scaled frame invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := (&Frame{Width: 0, Height: 1, Channels: 4}).Validate(); err == nil {
		t.Fatalf("expected error for zero width")
	}
	if err := (&Frame{Width: 2, Height: 2, Channels: 4, Pix: make([]byte, 3)}).Validate(); err == nil {
		t.Fatalf("expected error for short buffer")
	}
	if err := New(3, 3).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
