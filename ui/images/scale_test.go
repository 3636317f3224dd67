package images

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/soocke/framegrab/domain/bitmap"
)

func TestScaleToFitKeepsSmallImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 50, 40))
	if got := ScaleToFit(src, 100, 100); got != image.Image(src) {
		t.Fatalf("small image was rescaled")
	}
}

func TestScaleToFitPreservesAspect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	got := ScaleToFit(src, 100, 100).Bounds()
	if got.Dx() != 100 || got.Dy() != 50 {
		t.Fatalf("scaled to %dx%d, want 100x50", got.Dx(), got.Dy())
	}
}

func TestPreviewPNG(t *testing.T) {
	const w, h = 64, 32
	a, err := bitmap.NewAssembler(bitmap.Layout{Width: w, Height: h, BitsPerPixel: 32, Stride: w * 4})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i+2] = 0xff // red
	}
	pkt, err := a.Assemble(nil, pixels)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	out, err := PreviewPNG(pkt, 16, 16)
	if err != nil {
		t.Fatalf("PreviewPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("preview %dx%d, want 16x8", b.Dx(), b.Dy())
	}
	r, g, b, _ := img.At(4, 4).RGBA()
	if r>>8 < 0xf0 || g>>8 > 0x10 || b>>8 > 0x10 {
		t.Fatalf("preview colour %d,%d,%d not red", r>>8, g>>8, b>>8)
	}
}

func TestPreviewPNGRejectsGarbage(t *testing.T) {
	if _, err := PreviewPNG([]byte("not a bitmap"), 10, 10); err == nil {
		t.Fatalf("expected decode error")
	}
}
