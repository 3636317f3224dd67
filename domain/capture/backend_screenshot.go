package capture

import (
	"fmt"
	"image"
	"log/slog"

	displays "github.com/kbinani/screenshot"
	"github.com/vova616/screenshot"
)

func init() { Register("screenshot", 100, newScreenshotBackend) }

// screenshotBackend is the portable fallback. It grabs through the
// screenshot library into a fresh RGBA image and repacks it as BGRX rows, so
// it only serves desktop targets and costs one extra copy per frame.
type screenshotBackend struct {
	logger *slog.Logger
}

func newScreenshotBackend(logger *slog.Logger) Backend {
	return &screenshotBackend{logger: logger}
}

func (b *screenshotBackend) Name() string { return "screenshot" }

func (b *screenshotBackend) Open(t Target) (Source, error) {
	if t.IsWindow() {
		return nil, fmt.Errorf("%w: %w: window targets need a native backend", ErrBackendInit, ErrUnsupported)
	}
	bounds := virtualScreen()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: no active displays", ErrBackendInit)
	}
	b.logger.Debug("screenshot source opened", "bounds", bounds.String(), "displays", displays.NumActiveDisplays())
	return &screenshotSource{bounds: bounds}, nil
}

// virtualScreen is the union of all active display bounds.
func virtualScreen() image.Rectangle {
	var r image.Rectangle
	for i := 0; i < displays.NumActiveDisplays(); i++ {
		r = r.Union(displays.GetDisplayBounds(i))
	}
	return r
}

type screenshotSource struct {
	bounds image.Rectangle
}

func (s *screenshotSource) Bounds() image.Rectangle { return s.bounds }
func (s *screenshotSource) BitsPerPixel() int       { return 32 }
func (s *screenshotSource) Close() error            { return nil }

func (s *screenshotSource) NewSurface(clip image.Rectangle) (Surface, error) {
	return NewMemSurface(clip.Dx(), clip.Dy(), 32), nil
}

func (s *screenshotSource) Capture(dst Surface, clip image.Rectangle) error {
	img, err := screenshot.CaptureRect(clip)
	if err != nil {
		return fmt.Errorf("capture: grab %v: %w", clip, err)
	}
	return packBGRX(dst, img)
}

// packBGRX converts an RGBA image into BGRX rows of dst.
func packBGRX(dst Surface, img *image.RGBA) error {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix, stride := dst.Pix(), dst.Stride()
	if stride < w*4 || len(pix) < stride*h {
		return fmt.Errorf("capture: %dx%d image does not fit surface", w, h)
	}
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		row := pix[y*stride : y*stride+w*4]
		for x := 0; x < len(src); x += 4 {
			row[x+0] = src[x+2]
			row[x+1] = src[x+1]
			row[x+2] = src[x+0]
			row[x+3] = 0xff
		}
	}
	return nil
}
