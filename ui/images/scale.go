package images

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
)

// EncodePNG encodes an image to PNG bytes. Errors are ignored and may return an empty slice.
func EncodePNG(img image.Image) []byte {
	if img == nil {
		return nil
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// ScaleToFit downsamples src so that it fits within maxW x maxH preserving
// aspect ratio. If the source already fits, the original is returned.
func ScaleToFit(src image.Image, maxW, maxH int) image.Image {
	if src == nil {
		return nil
	}
	b := src.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return src
	}
	if maxW < 1 {
		maxW = 1
	}
	if maxH < 1 {
		maxH = 1
	}
	return imaging.Fit(src, maxW, maxH, imaging.Box)
}

// PreviewPNG decodes a BMP packet and returns a PNG thumbnail of it.
func PreviewPNG(packet []byte, maxW, maxH int) ([]byte, error) {
	img, err := bmp.Decode(bytes.NewReader(packet))
	if err != nil {
		return nil, fmt.Errorf("preview: decode frame: %w", err)
	}
	out := EncodePNG(ScaleToFit(img, maxW, maxH))
	if len(out) == 0 {
		return nil, fmt.Errorf("preview: encode png failed")
	}
	return out, nil
}
