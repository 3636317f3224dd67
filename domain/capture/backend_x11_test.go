//go:build !windows && !darwin

package capture

import (
	"errors"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func TestX11BitsPerPixel(t *testing.T) {
	formats := []xproto.Format{
		{Depth: 1, BitsPerPixel: 1, ScanlinePad: 32},
		{Depth: 15, BitsPerPixel: 16, ScanlinePad: 32},
		{Depth: 16, BitsPerPixel: 16, ScanlinePad: 32},
		{Depth: 24, BitsPerPixel: 32, ScanlinePad: 32},
		{Depth: 30, BitsPerPixel: 32, ScanlinePad: 16},
	}
	tests := []struct {
		depth byte
		bpp   int
		ok    bool
	}{
		{24, 32, true},
		{15, 16, true},
		{16, 0, false},
		{1, 0, false},
		{30, 0, false},
		{8, 0, false},
	}
	for _, tt := range tests {
		bpp, err := x11BitsPerPixel(tt.depth, formats)
		if tt.ok {
			if err != nil || bpp != tt.bpp {
				t.Fatalf("depth %d: bpp=%d err=%v, want %d", tt.depth, bpp, err, tt.bpp)
			}
			continue
		}
		if !errors.Is(err, ErrBackendInit) {
			t.Fatalf("depth %d: err=%v, want ErrBackendInit", tt.depth, err)
		}
	}
	if _, err := x11BitsPerPixel(16, formats); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("depth 16 err=%v, want ErrUnsupported", err)
	}
}
