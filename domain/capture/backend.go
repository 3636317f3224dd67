package capture

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
	"sync"
)

// Backend opens capture sources for targets. Implementations are platform
// specific and registered by name.
type Backend interface {
	Name() string
	Open(t Target) (Source, error)
}

// Source owns the handles needed to capture one target. All methods are
// called from the worker goroutine, which stays locked to one OS thread.
type Source interface {
	// Bounds is the capturable area in target coordinates.
	Bounds() image.Rectangle
	BitsPerPixel() int
	// NewSurface allocates a frame buffer able to hold clip.
	NewSurface(clip image.Rectangle) (Surface, error)
	// Capture copies the pixels under clip into dst, top row first.
	Capture(dst Surface, clip image.Rectangle) error
	Close() error
}

// Surface is a backend-allocated frame buffer.
type Surface interface {
	Pix() []byte
	Stride() int
	Release()
}

// PointerLocator is implemented by sources that can report the pointer
// position in target coordinates, already adjusted for the cursor hotspot.
type PointerLocator interface {
	Pointer() (pos image.Point, visible bool, err error)
}

// Palettized is implemented by sources whose depth uses a colour table.
type Palettized interface {
	Palette() color.Palette
}

// memSurface is a heap backed surface for backends that copy into user memory.
type memSurface struct {
	pix    []byte
	stride int
}

// NewMemSurface allocates a DIB laid out buffer for a w x h frame.
func NewMemSurface(w, h, bpp int) Surface {
	stride := DIBStride(w, bpp)
	return &memSurface{pix: make([]byte, stride*h), stride: stride}
}

func (s *memSurface) Pix() []byte { return s.pix }
func (s *memSurface) Stride() int { return s.stride }
func (s *memSurface) Release()    { s.pix = nil }

// BackendFactory constructs a backend.
type BackendFactory func(logger *slog.Logger) Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

type registration struct {
	factory BackendFactory
	// lower ranks win when the backend name is "auto".
	rank int
}

// Register makes a backend available to OpenBackend.
func Register(name string, rank int, f BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{factory: f, rank: rank}
}

// Backends lists registered backend names, preferred first.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := registry[names[i]].rank, registry[names[j]].rank
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

// OpenBackend returns the named backend. "auto" or "" selects the preferred
// backend for the platform.
func OpenBackend(name string, logger *slog.Logger) (Backend, error) {
	if name == "" || name == "auto" {
		names := Backends()
		if len(names) == 0 {
			return nil, fmt.Errorf("%w: no capture backend for this platform", ErrUnsupported)
		}
		name = names[0]
	}
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend %q (have %v)", ErrUnsupported, name, Backends())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return reg.factory(logger.With("backend", name)), nil
}
