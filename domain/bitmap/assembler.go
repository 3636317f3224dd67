// Package bitmap wraps raw top-down frames in self-contained BMP files.
package bitmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
)

const (
	FileHeaderSize = 14
	InfoHeaderSize = 40
	HeaderSize     = FileHeaderSize + InfoHeaderSize
)

var ErrShortFrame = errors.New("bitmap: frame shorter than layout")

// Layout describes the pixel rows handed to an Assembler. Stride includes
// row padding. Palette is only consulted for depths of 8 bits or less; when
// nil a grey ramp is written.
type Layout struct {
	Width        int
	Height       int
	BitsPerPixel int
	Stride       int
	Palette      color.Palette
}

// Assembler prefixes frames with a precomputed BMP header. It is safe for
// concurrent use.
type Assembler struct {
	layout Layout
	header []byte
}

func NewAssembler(l Layout) (*Assembler, error) {
	if l.Width <= 0 || l.Height <= 0 {
		return nil, fmt.Errorf("bitmap: invalid size %dx%d", l.Width, l.Height)
	}
	switch l.BitsPerPixel {
	case 1, 4, 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("bitmap: unsupported depth %d", l.BitsPerPixel)
	}
	if row := (l.Width*l.BitsPerPixel + 7) / 8; l.Stride < row {
		return nil, fmt.Errorf("bitmap: stride %d below row size %d", l.Stride, row)
	}
	a := &Assembler{layout: l}
	a.header = a.buildHeader()
	return a, nil
}

func (a *Assembler) Layout() Layout { return a.layout }

// HeaderSize is the byte count preceding the pixel data, palette included.
func (a *Assembler) HeaderSize() int { return len(a.header) }

// FrameSize is the number of pixel bytes copied per packet.
func (a *Assembler) FrameSize() int { return a.layout.Stride * a.layout.Height }

// PacketSize is the total length of every assembled packet.
func (a *Assembler) PacketSize() int { return len(a.header) + a.FrameSize() }

// Assemble writes header, palette and the first FrameSize bytes of pixels
// into dst, reusing its capacity, and returns the packet. The packet never
// aliases pixels.
func (a *Assembler) Assemble(dst, pixels []byte) ([]byte, error) {
	frame := a.FrameSize()
	if len(pixels) < frame {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(pixels), frame)
	}
	total := len(a.header) + frame
	if cap(dst) < total {
		dst = make([]byte, total)
	}
	dst = dst[:total]
	n := copy(dst, a.header)
	copy(dst[n:], pixels[:frame])
	return dst, nil
}

func paletteEntries(bpp int) int {
	if bpp <= 8 {
		return 1 << bpp
	}
	return 0
}

func (a *Assembler) buildHeader() []byte {
	l := a.layout
	entries := paletteEntries(l.BitsPerPixel)
	offset := HeaderSize + entries*4
	frame := l.Stride * l.Height
	h := make([]byte, offset)
	le := binary.LittleEndian

	// BITMAPFILEHEADER
	h[0], h[1] = 'B', 'M'
	le.PutUint32(h[2:], uint32(offset+frame))
	le.PutUint32(h[10:], uint32(offset))

	// BITMAPINFOHEADER, negative height for top-down rows
	info := h[FileHeaderSize:]
	le.PutUint32(info[0:], InfoHeaderSize)
	le.PutUint32(info[4:], uint32(int32(l.Width)))
	le.PutUint32(info[8:], uint32(-int32(l.Height)))
	le.PutUint16(info[12:], 1)
	le.PutUint16(info[14:], uint16(l.BitsPerPixel))
	// compression BI_RGB, image size, resolution and colour counts stay zero

	pal := h[HeaderSize:]
	for i := 0; i < entries; i++ {
		r, g, b := paletteColor(l.Palette, i, entries)
		pal[i*4+0] = b
		pal[i*4+1] = g
		pal[i*4+2] = r
	}
	return h
}

func paletteColor(p color.Palette, i, entries int) (r, g, b uint8) {
	if i < len(p) && p[i] != nil {
		cr, cg, cb, _ := p[i].RGBA()
		return uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)
	}
	if len(p) > 0 {
		return 0, 0, 0
	}
	v := uint8(i * 255 / (entries - 1))
	return v, v, v
}
