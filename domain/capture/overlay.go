package capture

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Arrow pointer glyph, hotspot at the top-left pixel.
// X is outline, . is fill.
var arrowGlyph = []string{
	"X",
	"XX",
	"X.X",
	"X..X",
	"X...X",
	"X....X",
	"X.....X",
	"X......X",
	"X.......X",
	"X........X",
	"X.....XXXXX",
	"X..X..X",
	"X.X X..X",
	"XX  X..X",
	"X    X..X",
	"     X..X",
	"      X..X",
	"      X..X",
	"       XX",
}

var glyphOutline, glyphFill = buildGlyph(arrowGlyph)

func buildGlyph(rows []string) (outline, fill *image.Alpha) {
	w := 0
	for _, r := range rows {
		if len(r) > w {
			w = len(r)
		}
	}
	rect := image.Rect(0, 0, w, len(rows))
	outline, fill = image.NewAlpha(rect), image.NewAlpha(rect)
	for y, r := range rows {
		for x, c := range r {
			switch c {
			case 'X':
				outline.SetAlpha(x, y, color.Alpha{A: 0xff})
			case '.':
				fill.SetAlpha(x, y, color.Alpha{A: 0xff})
			}
		}
	}
	return outline, fill
}

// pointerOverlay composites the pointer glyph into captured frames.
type pointerOverlay struct {
	locator PointerLocator
	clip    image.Rectangle
	format  FrameFormat
}

func (o *pointerOverlay) draw(s Surface) error {
	if o.format.BitsPerPixel != 32 {
		return fmt.Errorf("%w: %d bpp frames: %w", ErrOverlay, o.format.BitsPerPixel, ErrUnsupported)
	}
	pos, visible, err := o.locator.Pointer()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOverlay, err)
	}
	if !visible {
		return nil
	}
	// Channel order is irrelevant for a black and white glyph, so the BGRX
	// rows are drawn through an RGBA view.
	dst := &image.RGBA{
		Pix:    s.Pix(),
		Stride: s.Stride(),
		Rect:   image.Rect(0, 0, o.format.Width, o.format.Height),
	}
	r := glyphOutline.Bounds().Add(pos.Sub(o.clip.Min))
	if !r.Overlaps(dst.Rect) {
		return nil
	}
	draw.DrawMask(dst, r, image.White, image.Point{}, glyphFill, image.Point{}, draw.Over)
	draw.DrawMask(dst, r, image.Black, image.Point{}, glyphOutline, image.Point{}, draw.Over)
	return nil
}
