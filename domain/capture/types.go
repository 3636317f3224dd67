package capture

import (
	"image"
	"time"
)

// FrameFormat describes the byte layout of every frame a worker produces.
// Rows are padded to a 4-byte boundary as in a device independent bitmap.
type FrameFormat struct {
	Width          int
	Height         int
	BitsPerPixel   int
	Stride         int
	Size           int
	PaletteEntries int
}

// DIBStride returns the padded row length for a w pixel wide row.
func DIBStride(w, bpp int) int { return ((w*bpp + 31) / 32) * 4 }

// NewFrameFormat computes the layout of a w x h frame at bpp bits per pixel.
func NewFrameFormat(w, h, bpp int) FrameFormat {
	f := FrameFormat{Width: w, Height: h, BitsPerPixel: bpp, Stride: DIBStride(w, bpp)}
	f.Size = f.Stride * h
	if bpp <= 8 {
		f.PaletteEntries = 1 << bpp
	}
	return f
}

// Packet is one assembled frame handed to the consumer.
type Packet struct {
	Seq             uint64
	TimestampMicros int64
	Payload         []byte
}

// Region selects the captured rectangle. A zero Width or Height selects the
// whole target; otherwise X and Y are absolute target coordinates.
type Region struct {
	X, Y          int
	Width, Height int
}

// RegionIndicator outlines the captured area on screen. Implementations must
// tolerate calls from the worker goroutine.
type RegionIndicator interface {
	Show(r image.Rectangle) error
	Hide()
	PumpEvents()
}

// CaptureStats summarises capture loop behaviour for instrumentation.
type CaptureStats struct {
	Captures       uint64
	Failed         uint64
	Published      uint64
	Delivered      uint64
	AvgCapture     time.Duration
	PacingBalance  time.Duration
	LastPublished  time.Time
	LatestFrameAge time.Duration
}
