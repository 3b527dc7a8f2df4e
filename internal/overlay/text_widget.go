package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget displays a single line of text on a translucent background.
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA // nil for transparent
	padding   int
}

// NewTextWidget creates a white-on-black text widget at (x, y).
func NewTextWidget(id string, x, y int) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 0.85),
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    &color.RGBA{0, 0, 0, 255},
		padding:    5,
	}
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

// Text returns the current text
func (w *TextWidget) Text() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.mu.Lock()
	w.textColor = c
	w.mu.Unlock()
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.mu.Lock()
	w.bgColor = c
	w.mu.Unlock()
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	w.mu.RLock()
	text, fg, bg, pad := w.text, w.textColor, w.bgColor, w.padding
	x, y, opacity, enabled := w.x, w.y, w.opacity, w.enabled
	w.mu.RUnlock()

	if !enabled || text == "" {
		return nil
	}

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := metrics.Height.Ceil()

	textWidth := font.MeasureString(face, text).Ceil()
	width := textWidth + pad*2
	height := lineHeight + pad*2

	// Draw background if configured
	if bg != nil {
		bgImg := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(bgImg, bgImg.Bounds(), &image.Uniform{*bg}, image.Point{}, draw.Src)
		BlendImage(img, bgImg, x, y, opacity*0.6)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, textWidth, lineHeight))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(text)

	BlendImage(img, textImg, x+pad, y+pad, opacity)
	return nil
}
