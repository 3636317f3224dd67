package capture

import (
	"fmt"
	"image"
)

// ClipRect resolves the captured rectangle inside bounds.
func ClipRect(bounds image.Rectangle, bpp int, r Region) (image.Rectangle, error) {
	if bpp <= 0 || bpp%8 != 0 {
		return image.Rectangle{}, fmt.Errorf("%w: %d bits per pixel", ErrInvalidRegion, bpp)
	}
	if r.Width < 0 || r.Height < 0 {
		return image.Rectangle{}, fmt.Errorf("%w: size %dx%d", ErrInvalidRegion, r.Width, r.Height)
	}
	clip := bounds
	if r.Width != 0 && r.Height != 0 {
		clip = image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	}
	if clip.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: empty rect %v", ErrInvalidRegion, clip)
	}
	if !clip.In(bounds) {
		return image.Rectangle{}, fmt.Errorf("%w: %v outside target %v", ErrInvalidRegion, clip, bounds)
	}
	return clip, nil
}
