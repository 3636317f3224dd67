package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRegion reports a clip rectangle outside the target, an empty
	// rectangle, or a pixel depth that is not a whole number of bytes.
	ErrInvalidRegion = errors.New("capture: invalid region")
	// ErrBackendInit reports that the backend could not open the target or
	// allocate frame surfaces.
	ErrBackendInit = errors.New("capture: backend init failed")
	// ErrCapture marks a failed copy of target pixels into a frame buffer.
	ErrCapture = errors.New("capture: frame capture failed")
	// ErrOverlay marks a failed pointer overlay. It never aborts a frame.
	ErrOverlay = errors.New("capture: pointer overlay failed")
	// ErrSlotClosed is returned by every pull once the worker has terminated.
	ErrSlotClosed = errors.New("capture: worker stopped")
	// ErrNoFrame is returned by TryNext when no frame is ready yet.
	ErrNoFrame = errors.New("capture: no frame ready")

	ErrUnsupported    = errors.New("capture: unsupported")
	ErrWindowNotFound = errors.New("capture: window not found")
	ErrInvalidTarget  = errors.New("capture: invalid target")
)

// CaptureError carries the iteration a capture failed on.
type CaptureError struct {
	Seq uint64
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: frame %d: %v", e.Seq, e.Err)
}

// Unwrap exposes both ErrCapture and the backend cause.
func (e *CaptureError) Unwrap() []error { return []error{ErrCapture, e.Err} }

// IsFatal reports whether err ended the worker before any frame was produced.
func IsFatal(err error) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Seq == 0
}
