//go:build windows

package capture

// GDI capture into persistent top-down DIB sections. Each source keeps one
// device context for the target and one memory DC; frame surfaces are DIB
// sections whose bits are handed to the worker without copying.

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

func init() { Register("gdi", 0, newGDIBackend) }

// Win32 constants
const (
	srccopy      = 0x00CC0020
	captureblt   = 0x40000000
	dibRGBColors = 0
	biRgb        = 0

	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCxVirtualScreen = 78
	smCyVirtualScreen = 79

	capHorzRes        = 8
	capVertRes        = 10
	capBitsPixel      = 12
	capDesktopVertRes = 117
	capDesktopHorzRes = 118

	cursorShowing = 0x00000001
)

// Win32 DLL procs (lazy loaded)
var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	gdi32                  = windows.NewLazySystemDLL("gdi32.dll")
	procGetDC              = user32.NewProc("GetDC")
	procReleaseDC          = user32.NewProc("ReleaseDC")
	procGetSystemMetrics   = user32.NewProc("GetSystemMetrics")
	procGetClientRect      = user32.NewProc("GetClientRect")
	procFindWindowW        = user32.NewProc("FindWindowW")
	procGetCursorInfo      = user32.NewProc("GetCursorInfo")
	procGetIconInfo        = user32.NewProc("GetIconInfo")
	procScreenToClient     = user32.NewProc("ScreenToClient")
	procCreateCompatibleDC = gdi32.NewProc("CreateCompatibleDC")
	procDeleteDC           = gdi32.NewProc("DeleteDC")
	procSelectObject       = gdi32.NewProc("SelectObject")
	procBitBlt             = gdi32.NewProc("BitBlt")
	procCreateDIBSection   = gdi32.NewProc("CreateDIBSection")
	procDeleteObject       = gdi32.NewProc("DeleteObject")
	procGetDeviceCaps      = gdi32.NewProc("GetDeviceCaps")
	procGdiFlush           = gdi32.NewProc("GdiFlush")
)

// BITMAPINFO structures (Win32 layout).
type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	_      [4]byte // one RGBQUAD placeholder (unused above 8 bpp)
}

type winRect struct{ Left, Top, Right, Bottom int32 }

type winPoint struct{ X, Y int32 }

type cursorInfo struct {
	cbSize      uint32
	flags       uint32
	hCursor     uintptr
	ptScreenPos winPoint
}

type iconInfo struct {
	fIcon    int32
	xHotspot uint32
	yHotspot uint32
	hbmMask  uintptr
	hbmColor uintptr
}

type gdiBackend struct {
	logger *slog.Logger
}

func newGDIBackend(logger *slog.Logger) Backend { return &gdiBackend{logger: logger} }

func (b *gdiBackend) Name() string { return "gdi" }

func (b *gdiBackend) Open(t Target) (Source, error) {
	var hwnd uintptr
	if t.IsWindow() {
		var err error
		if hwnd, err = findWindow(t); err != nil {
			return nil, err
		}
	}

	hdc, _, err := procGetDC.Call(hwnd)
	if hdc == 0 {
		return nil, fmt.Errorf("%w: GetDC failed: %w", ErrBackendInit, err)
	}
	memDC, _, err := procCreateCompatibleDC.Call(hdc)
	if memDC == 0 {
		procReleaseDC.Call(hwnd, hdc)
		return nil, fmt.Errorf("%w: CreateCompatibleDC failed: %w", ErrBackendInit, err)
	}
	s := &gdiSource{hwnd: hwnd, hdc: hdc, memDC: memDC, scaleX: 1, scaleY: 1}

	if hwnd != 0 {
		var rc winRect
		if ok, _, err := procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&rc))); ok == 0 {
			s.Close()
			return nil, fmt.Errorf("%w: GetClientRect failed: %w", ErrBackendInit, err)
		}
		s.bounds = image.Rect(0, 0, int(rc.Right), int(rc.Bottom))
	} else {
		s.bounds = image.Rect(0, 0, int(getSystemMetric(smCxVirtualScreen)), int(getSystemMetric(smCyVirtualScreen))).
			Add(image.Pt(int(getSystemMetric(smXVirtualScreen)), int(getSystemMetric(smYVirtualScreen))))
		// Metrics are reported in logical pixels for processes that are not
		// DPI aware; BitBlt works in physical pixels.
		horz, vert := deviceCaps(hdc, capHorzRes), deviceCaps(hdc, capVertRes)
		dhorz, dvert := deviceCaps(hdc, capDesktopHorzRes), deviceCaps(hdc, capDesktopVertRes)
		if horz > 0 && vert > 0 && dhorz > 0 && dvert > 0 {
			s.scaleX = float64(dhorz) / float64(horz)
			s.scaleY = float64(dvert) / float64(vert)
		}
		s.bounds = image.Rect(
			int(float64(s.bounds.Min.X)*s.scaleX), int(float64(s.bounds.Min.Y)*s.scaleY),
			int(float64(s.bounds.Max.X)*s.scaleX), int(float64(s.bounds.Max.Y)*s.scaleY),
		)
	}

	s.bpp = deviceCaps(hdc, capBitsPixel)
	if s.bpp != 16 && s.bpp != 24 && s.bpp != 32 {
		// Palette devices are captured through a 32-bit DIB.
		s.bpp = 32
	}
	b.logger.Debug("gdi source opened",
		"hwnd", hwnd,
		"bounds", s.bounds.String(),
		"bpp", s.bpp,
		"scale_x", s.scaleX,
		"scale_y", s.scaleY,
	)
	return s, nil
}

var (
	enumMu      sync.Mutex
	enumTarget  Target
	enumFound   windows.HWND
	enumWindows = windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		var buf [256]uint16
		n, _ := windows.GetWindowText(hwnd, &buf[0], int32(len(buf)))
		if n > 0 && enumTarget.MatchTitle(windows.UTF16ToString(buf[:n])) {
			enumFound = hwnd
			return 0
		}
		return 1
	})
)

func findWindow(t Target) (uintptr, error) {
	if !t.IsPattern() {
		title, err := windows.UTF16PtrFromString(t.Name)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
		hwnd, _, _ := procFindWindowW.Call(0, uintptr(unsafe.Pointer(title)))
		if hwnd == 0 {
			return 0, fmt.Errorf("%w: %w: %q", ErrBackendInit, ErrWindowNotFound, t.Name)
		}
		return hwnd, nil
	}

	enumMu.Lock()
	defer enumMu.Unlock()
	enumTarget, enumFound = t, 0
	// EnumWindows reports an error when the callback stops early.
	_ = windows.EnumWindows(enumWindows, nil)
	if enumFound == 0 {
		return 0, fmt.Errorf("%w: %w: %q", ErrBackendInit, ErrWindowNotFound, t.Name)
	}
	return uintptr(enumFound), nil
}

type gdiSource struct {
	hwnd   uintptr
	hdc    uintptr
	memDC  uintptr
	bounds image.Rectangle
	bpp    int
	scaleX float64
	scaleY float64
}

type dibSurface struct {
	bmp    uintptr
	pix    []byte
	stride int
}

func (s *dibSurface) Pix() []byte { return s.pix }
func (s *dibSurface) Stride() int { return s.stride }

func (s *dibSurface) Release() {
	if s.bmp != 0 {
		procDeleteObject.Call(s.bmp)
		s.bmp = 0
		s.pix = nil
	}
}

func (s *gdiSource) Bounds() image.Rectangle { return s.bounds }
func (s *gdiSource) BitsPerPixel() int       { return s.bpp }

func (s *gdiSource) NewSurface(clip image.Rectangle) (Surface, error) {
	w, h := clip.Dx(), clip.Dy()
	stride := DIBStride(w, s.bpp)

	var bi bitmapInfo
	bi.Header.BiSize = uint32(unsafe.Sizeof(bi.Header))
	bi.Header.BiWidth = int32(w)
	bi.Header.BiHeight = -int32(h) // top-down
	bi.Header.BiPlanes = 1
	bi.Header.BiBitCount = uint16(s.bpp)
	bi.Header.BiCompression = biRgb

	var bits unsafe.Pointer
	bmp, _, err := procCreateDIBSection.Call(s.hdc, uintptr(unsafe.Pointer(&bi)), dibRGBColors, uintptr(unsafe.Pointer(&bits)), 0, 0)
	if bmp == 0 || bits == nil {
		return nil, fmt.Errorf("capture: CreateDIBSection %dx%d failed: %w", w, h, err)
	}
	return &dibSurface{bmp: bmp, pix: unsafe.Slice((*byte)(bits), stride*h), stride: stride}, nil
}

func (s *gdiSource) Capture(dst Surface, clip image.Rectangle) error {
	dib, ok := dst.(*dibSurface)
	if !ok {
		return fmt.Errorf("capture: surface %T not allocated by gdi source", dst)
	}
	prev, _, err := procSelectObject.Call(s.memDC, dib.bmp)
	if prev == 0 || prev == ^uintptr(0) { // failure or GDI_ERROR
		return fmt.Errorf("capture: SelectObject failed: %w", err)
	}
	defer procSelectObject.Call(s.memDC, prev)
	w, h := clip.Dx(), clip.Dy()
	ret, _, err := procBitBlt.Call(s.memDC, 0, 0, uintptr(w), uintptr(h), s.hdc, uintptr(clip.Min.X), uintptr(clip.Min.Y), srccopy|captureblt)
	if ret == 0 {
		return fmt.Errorf("capture: BitBlt failed x=%d y=%d w=%d h=%d: %w", clip.Min.X, clip.Min.Y, w, h, err)
	}
	procGdiFlush.Call()
	return nil
}

// Pointer reports the cursor hotspot-adjusted position in target coordinates.
func (s *gdiSource) Pointer() (image.Point, bool, error) {
	ci := cursorInfo{cbSize: uint32(unsafe.Sizeof(cursorInfo{}))}
	if ok, _, err := procGetCursorInfo.Call(uintptr(unsafe.Pointer(&ci))); ok == 0 {
		return image.Point{}, false, fmt.Errorf("GetCursorInfo failed: %w", err)
	}
	if ci.flags&cursorShowing == 0 {
		return image.Point{}, false, nil
	}
	pt := ci.ptScreenPos
	var ii iconInfo
	if ok, _, _ := procGetIconInfo.Call(ci.hCursor, uintptr(unsafe.Pointer(&ii))); ok != 0 {
		pt.X -= int32(ii.xHotspot)
		pt.Y -= int32(ii.yHotspot)
		if ii.hbmMask != 0 {
			procDeleteObject.Call(ii.hbmMask)
		}
		if ii.hbmColor != 0 {
			procDeleteObject.Call(ii.hbmColor)
		}
	}
	if s.hwnd != 0 {
		if ok, _, err := procScreenToClient.Call(s.hwnd, uintptr(unsafe.Pointer(&pt))); ok == 0 {
			return image.Point{}, false, fmt.Errorf("ScreenToClient failed: %w", err)
		}
		return image.Pt(int(pt.X), int(pt.Y)), true, nil
	}
	return image.Pt(int(float64(pt.X)*s.scaleX), int(float64(pt.Y)*s.scaleY)), true, nil
}

func (s *gdiSource) Close() error {
	if s.memDC != 0 {
		procDeleteDC.Call(s.memDC)
		s.memDC = 0
	}
	if s.hdc != 0 {
		procReleaseDC.Call(s.hwnd, s.hdc)
		s.hdc = 0
	}
	return nil
}

func getSystemMetric(idx int) int32 {
	v, _, _ := procGetSystemMetrics.Call(uintptr(idx))
	return int32(v)
}

func deviceCaps(hdc uintptr, idx int) int {
	v, _, _ := procGetDeviceCaps.Call(hdc, uintptr(idx))
	return int(int32(v))
}
