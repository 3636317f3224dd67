//go:build !windows && !darwin

package capture

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

func init() { Register("x11", 10, newX11Backend) }

type x11Backend struct {
	logger *slog.Logger
}

func newX11Backend(logger *slog.Logger) Backend { return &x11Backend{logger: logger} }

func (b *x11Backend) Name() string { return "x11" }

func (b *x11Backend) Open(t Target) (Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: connect to X server: %w", ErrBackendInit, err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	drawable := screen.Root
	if t.IsWindow() {
		win, err := findX11Window(conn, screen.Root, t)
		if err != nil {
			conn.Close()
			return nil, err
		}
		drawable = win
	}

	geom, err := xproto.GetGeometry(conn, xproto.Drawable(drawable)).Reply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: query geometry: %w", ErrBackendInit, err)
	}
	bpp, err := x11BitsPerPixel(geom.Depth, setup.PixmapFormats)
	if err != nil {
		conn.Close()
		return nil, err
	}
	src := &x11Source{
		conn:     conn,
		drawable: drawable,
		bounds:   image.Rect(0, 0, int(geom.Width), int(geom.Height)),
		bpp:      bpp,
	}
	b.logger.Debug("x11 source opened", "window", drawable, "bounds", src.bounds.String(), "depth", geom.Depth, "bpp", bpp)
	return src, nil
}

// x11BitsPerPixel picks the ZPixmap layout for depth. The layout must be
// one a BI_RGB bitmap header can describe: rows padded to 32 bits and, at
// 16 bpp, only the 5-5-5 depth 15 layout. Depth 16 is 5-6-5 and would need
// BI_BITFIELDS masks.
func x11BitsPerPixel(depth byte, formats []xproto.Format) (int, error) {
	for _, f := range formats {
		if f.Depth != depth {
			continue
		}
		if f.ScanlinePad != 32 {
			return 0, fmt.Errorf("%w: scanline pad %d: %w", ErrBackendInit, f.ScanlinePad, ErrUnsupported)
		}
		switch bpp := int(f.BitsPerPixel); {
		case bpp == 16 && depth != 15:
			return 0, fmt.Errorf("%w: depth %d at 16 bpp: %w", ErrBackendInit, depth, ErrUnsupported)
		case bpp == 24 || bpp == 32 || bpp == 16:
			return bpp, nil
		default:
			return 0, fmt.Errorf("%w: %d bpp pixmaps: %w", ErrBackendInit, bpp, ErrUnsupported)
		}
	}
	return 0, fmt.Errorf("%w: no pixmap format for depth %d", ErrBackendInit, depth)
}

// findX11Window walks the window tree breadth first and returns the first
// window whose title matches t.
func findX11Window(conn *xgb.Conn, root xproto.Window, t Target) (xproto.Window, error) {
	netName := internAtom(conn, "_NET_WM_NAME")
	queue := []xproto.Window{root}
	for len(queue) > 0 {
		win := queue[0]
		queue = queue[1:]
		if win != root {
			if title, ok := windowTitle(conn, win, netName); ok && t.MatchTitle(title) {
				return win, nil
			}
		}
		tree, err := xproto.QueryTree(conn, win).Reply()
		if err != nil {
			continue
		}
		queue = append(queue, tree.Children...)
	}
	return 0, fmt.Errorf("%w: %w: %q", ErrBackendInit, ErrWindowNotFound, t.Name)
}

func internAtom(conn *xgb.Conn, name string) xproto.Atom {
	reply, err := xproto.InternAtom(conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return xproto.AtomNone
	}
	return reply.Atom
}

func windowTitle(conn *xgb.Conn, win xproto.Window, netName xproto.Atom) (string, bool) {
	for _, atom := range []xproto.Atom{netName, xproto.AtomWmName} {
		if atom == xproto.AtomNone {
			continue
		}
		prop, err := xproto.GetProperty(conn, false, win, atom, xproto.GetPropertyTypeAny, 0, 1024).Reply()
		if err != nil || prop == nil || len(prop.Value) == 0 {
			continue
		}
		return string(prop.Value), true
	}
	return "", false
}

type x11Source struct {
	conn     *xgb.Conn
	drawable xproto.Window
	bounds   image.Rectangle
	bpp      int
}

func (s *x11Source) Bounds() image.Rectangle { return s.bounds }
func (s *x11Source) BitsPerPixel() int       { return s.bpp }

func (s *x11Source) NewSurface(clip image.Rectangle) (Surface, error) {
	return NewMemSurface(clip.Dx(), clip.Dy(), s.bpp), nil
}

func (s *x11Source) Capture(dst Surface, clip image.Rectangle) error {
	img, err := xproto.GetImage(s.conn, xproto.ImageFormatZPixmap, xproto.Drawable(s.drawable),
		int16(clip.Min.X), int16(clip.Min.Y), uint16(clip.Dx()), uint16(clip.Dy()), 0xffffffff).Reply()
	if err != nil {
		return fmt.Errorf("capture: GetImage %v: %w", clip, err)
	}
	pix := dst.Pix()
	size := dst.Stride() * clip.Dy()
	if len(img.Data) < size || len(pix) < size {
		return fmt.Errorf("capture: GetImage returned %d bytes, want %d", len(img.Data), size)
	}
	copy(pix[:size], img.Data)
	return nil
}

// Pointer reports the pointer relative to the captured drawable.
func (s *x11Source) Pointer() (image.Point, bool, error) {
	reply, err := xproto.QueryPointer(s.conn, s.drawable).Reply()
	if err != nil {
		return image.Point{}, false, err
	}
	return image.Pt(int(reply.WinX), int(reply.WinY)), reply.SameScreen, nil
}

func (s *x11Source) Close() error {
	s.conn.Close()
	return nil
}
