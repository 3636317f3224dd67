package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/soocke/framegrab/domain/bitmap"
)

// Options configure one capture worker.
type Options struct {
	Target Target
	Region Region
	// Period is the target spacing between frames.
	Period time.Duration
	// DrawMouse composites the pointer into frames when the source can
	// locate it.
	DrawMouse bool
	// ShowRegion outlines the captured area with Indicator. Ignored for
	// window targets.
	ShowRegion bool
	Indicator  RegionIndicator
}

// Worker captures frames on a dedicated goroutine and hands the newest one
// to a single consumer through Next or TryNext.
type Worker struct {
	opts    Options
	backend Backend
	logger  *slog.Logger
	runID   string

	// set up on the worker goroutine before Start returns
	source    Source
	clip      image.Rectangle
	format    FrameFormat
	pool      *bufferPool
	assembler *bitmap.Assembler
	overlay   *pointerOverlay
	indicator RegionIndicator

	slot     *handoff
	metrics  captureMetrics
	epoch    time.Time
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
	cause    error
}

// Start opens the target, allocates both frame buffers and begins capturing.
// Setup runs on the worker goroutine; Start returns its outcome. Cancelling
// ctx stops the worker the same way Stop does.
func Start(ctx context.Context, backend Backend, opts Options, logger *slog.Logger) (*Worker, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrBackendInit)
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("capture: invalid frame period %v", opts.Period)
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	w := &Worker{
		opts:    opts,
		backend: backend,
		runID:   runID,
		logger:  logger.With("run_id", runID, "target", opts.Target.String()),
		slot:    newHandoff(),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		<-w.exited
		return nil, err
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.requestStop()
			case <-w.exited:
			}
		}()
	}
	return w, nil
}

// RunID identifies this worker in logs.
func (w *Worker) RunID() string { return w.runID }

// Clip is the captured rectangle in target coordinates.
func (w *Worker) Clip() image.Rectangle { return w.clip }

// Format describes the pixel layout of every frame.
func (w *Worker) Format() FrameFormat { return w.format }

// Period is the configured spacing between frames.
func (w *Worker) Period() time.Duration { return w.opts.Period }

// Stats may be called from any goroutine.
func (w *Worker) Stats() CaptureStats { return w.metrics.snapshot() }

// Done is closed once the worker goroutine has exited and released its
// resources.
func (w *Worker) Done() <-chan struct{} { return w.exited }

// PacketSize is the byte length of every packet returned by Next.
func (w *Worker) PacketSize() int { return w.assembler.PacketSize() }

// BitRate estimates the stream bit rate of assembled packets at the
// configured frame rate.
func (w *Worker) BitRate() int64 {
	fps := float64(time.Second) / float64(w.opts.Period)
	return int64(float64(w.assembler.PacketSize()) * fps * 8)
}

// Next blocks until a frame is ready and returns it as a BMP packet. Once
// the worker has terminated every call returns an error wrapping
// ErrSlotClosed, and the fatal capture error if there was one. A nil ctx
// waits without a deadline.
func (w *Worker) Next(ctx context.Context) (Packet, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ref, err := w.slot.take(ctx)
	if err != nil {
		return Packet{}, err
	}
	return w.deliver(ref)
}

// TryNext is the non-blocking form of Next. It returns ErrNoFrame when the
// slot is empty.
func (w *Worker) TryNext() (Packet, error) {
	ref, err := w.slot.tryTake()
	if err != nil {
		return Packet{}, err
	}
	return w.deliver(ref)
}

func (w *Worker) deliver(ref frameRef) (Packet, error) {
	defer w.pool.release(ref.index)
	payload, err := w.assembler.Assemble(nil, w.pool.surface(ref.index).Pix())
	if err != nil {
		return Packet{}, err
	}
	w.metrics.delivered.Add(1)
	return Packet{
		Seq:             ref.seq,
		TimestampMicros: w.epoch.UnixMicro() + ref.at.Sub(w.epoch).Microseconds(),
		Payload:         payload,
	}, nil
}

// Stop asks the worker to finish and waits until its goroutine has exited
// and the frame buffers are released. It is safe to call repeatedly and
// concurrently with Next. The returned error is the fatal capture error
// that ended the worker, if any.
func (w *Worker) Stop() error {
	w.requestStop()
	<-w.exited
	return w.cause
}

func (w *Worker) requestStop() {
	w.quitOnce.Do(func() { close(w.quit) })
	w.slot.close(nil)
}

func (w *Worker) stopping() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

func (w *Worker) run(ready chan<- error) {
	defer close(w.exited)
	// GDI device contexts and X connections are bound to the thread that
	// created them.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := w.setup(); err != nil {
		w.slot.close(err)
		w.releaseSetup()
		ready <- err
		return
	}
	ready <- nil

	w.cause = w.loop()
	w.teardown()
}

func (w *Worker) setup() error {
	src, err := w.backend.Open(w.opts.Target)
	if err != nil {
		if errors.Is(err, ErrBackendInit) {
			return err
		}
		return fmt.Errorf("%w: open %s: %w", ErrBackendInit, w.opts.Target, err)
	}
	w.source = src

	bpp := src.BitsPerPixel()
	clip, err := ClipRect(src.Bounds(), bpp, w.opts.Region)
	if err != nil {
		return err
	}
	w.clip = clip

	var surfaces [2]Surface
	for i := range surfaces {
		s, err := src.NewSurface(clip)
		if err != nil {
			for _, prev := range surfaces[:i] {
				prev.Release()
			}
			return fmt.Errorf("%w: allocate frame buffer: %w", ErrBackendInit, err)
		}
		surfaces[i] = s
	}
	w.pool = newBufferPool(surfaces[0], surfaces[1])

	w.format, err = probeFormat(clip, bpp, surfaces[0])
	if err != nil {
		return err
	}

	layout := bitmap.Layout{
		Width:        w.format.Width,
		Height:       w.format.Height,
		BitsPerPixel: w.format.BitsPerPixel,
		Stride:       w.format.Stride,
	}
	if p, ok := src.(Palettized); ok && w.format.PaletteEntries > 0 {
		layout.Palette = p.Palette()
	}
	if w.assembler, err = bitmap.NewAssembler(layout); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendInit, err)
	}

	if w.opts.DrawMouse {
		if loc, ok := src.(PointerLocator); ok {
			w.overlay = &pointerOverlay{locator: loc, clip: clip, format: w.format}
		} else {
			w.logger.Warn("pointer overlay unavailable for backend", "backend", w.backend.Name())
		}
	}

	show := w.opts.ShowRegion
	if show && w.opts.Target.IsWindow() {
		w.logger.Warn("show_region is ignored for window targets")
		show = false
	}
	if show && w.opts.Indicator != nil {
		if err := w.opts.Indicator.Show(clip); err != nil {
			w.logger.Warn("region outline unavailable, capturing without it", "error", err)
		} else {
			w.indicator = w.opts.Indicator
		}
	}

	w.logger.Info("capture worker started",
		"backend", w.backend.Name(),
		"clip", clip.String(),
		"bpp", w.format.BitsPerPixel,
		"frame_size", humanize.IBytes(uint64(w.format.Size)),
		"period", w.opts.Period,
		"bit_rate", humanize.SI(float64(w.BitRate()), "bit/s"),
	)
	return nil
}

// probeFormat derives the frame layout from an allocated surface.
func probeFormat(clip image.Rectangle, bpp int, s Surface) (FrameFormat, error) {
	f := NewFrameFormat(clip.Dx(), clip.Dy(), bpp)
	if stride := s.Stride(); stride != f.Stride {
		if stride < (f.Width*bpp+7)/8 {
			return FrameFormat{}, fmt.Errorf("%w: surface stride %d too small", ErrBackendInit, stride)
		}
		f.Stride = stride
		f.Size = stride * f.Height
	}
	if len(s.Pix()) < f.Size {
		return FrameFormat{}, fmt.Errorf("%w: surface holds %d bytes, frame needs %d", ErrBackendInit, len(s.Pix()), f.Size)
	}
	return f, nil
}

// releaseSetup undoes a partial setup.
func (w *Worker) releaseSetup() {
	if w.pool != nil {
		w.pool.free()
	}
	if w.source != nil {
		if err := w.source.Close(); err != nil {
			w.logger.Warn("close capture source", "error", err)
		}
	}
}

func (w *Worker) loop() error {
	pacer := NewPacer(w.opts.Period)
	statsTicker := time.NewTicker(captureStatsLogInterval)
	defer statsTicker.Stop()

	var overlayLogged bool
	w.epoch = time.Now()
	start := w.epoch
	for seq := uint64(0); ; seq++ {
		i := int(seq % 2)
		if !w.pool.acquire(i, w.quit) {
			return nil
		}
		if w.indicator != nil {
			w.indicator.PumpEvents()
		}

		surface := w.pool.surface(i)
		capStart := time.Now()
		err := w.source.Capture(surface, w.clip)
		w.metrics.observeCapture(time.Since(capStart), err)

		switch {
		case err != nil:
			w.pool.release(i)
			cerr := &CaptureError{Seq: seq, Err: err}
			if seq == 0 {
				w.logger.Error("first capture failed", "error", err)
				return cerr
			}
			w.logger.Warn("capture failed", "seq", seq, "error", err)
		case w.stopping():
			w.pool.release(i)
			return nil
		default:
			if w.overlay != nil {
				if err := w.overlay.draw(surface); err != nil && !overlayLogged {
					w.logger.Warn("pointer overlay failed", "error", err)
					overlayLogged = true
				}
			}
			if !w.slot.publish(frameRef{index: i, seq: seq, at: start}) {
				w.pool.release(i)
				return nil
			}
			w.metrics.observePublish(start)
		}

		select {
		case <-statsTicker.C:
			w.metrics.log(w.logger)
		default:
		}

		if !pacer.Wait(time.Since(start), w.quit) {
			return nil
		}
		w.metrics.balanceNanos.Store(int64(pacer.Balance()))
		start = time.Now()
	}
}

func (w *Worker) teardown() {
	w.slot.close(w.cause)
	if ref, ok := w.slot.drain(); ok {
		w.pool.release(ref.index)
	}
	w.pool.reclaim()
	w.pool.free()
	if err := w.source.Close(); err != nil {
		w.logger.Warn("close capture source", "error", err)
	}
	if w.indicator != nil {
		w.indicator.Hide()
	}
	stats := w.metrics.snapshot()
	w.logger.Info("capture worker stopped",
		"captures", stats.Captures,
		"failed", stats.Failed,
		"delivered", stats.Delivered,
		"error", w.cause,
	)
}
