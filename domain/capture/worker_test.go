package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errFake = errors.New("fake capture failure")

type fakeBackend struct {
	bounds  image.Rectangle
	bpp     int
	openErr error
	// failAt lists capture calls (0-based) that fail.
	failAt map[int]bool
	// failFrom makes every call from this index on fail when > 0.
	failFrom int
	// gate blocks every capture until closed when non-nil.
	gate chan struct{}
	// entered receives a value, if there is room, as each capture begins.
	entered chan struct{}
	pointer *image.Point

	mu           sync.Mutex
	calls        int
	closed       bool
	released     int
	callsAfter   int
	pointerCalls int
}

type fakeSource struct{ b *fakeBackend }

type fakePointerSource struct{ fakeSource }

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(Target) (Source, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	if b.pointer != nil {
		return &fakePointerSource{fakeSource{b}}, nil
	}
	return &fakeSource{b}, nil
}

func (b *fakeBackend) snapshot() (calls, released int, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.released, b.closed
}

func (s *fakeSource) Bounds() image.Rectangle { return s.b.bounds }
func (s *fakeSource) BitsPerPixel() int       { return s.b.bpp }

func (s *fakeSource) NewSurface(clip image.Rectangle) (Surface, error) {
	return &fakeSurface{Surface: NewMemSurface(clip.Dx(), clip.Dy(), s.b.bpp), b: s.b}, nil
}

func (s *fakeSource) Capture(dst Surface, _ image.Rectangle) error {
	if s.b.entered != nil {
		select {
		case s.b.entered <- struct{}{}:
		default:
		}
	}
	if s.b.gate != nil {
		<-s.b.gate
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	n := s.b.calls
	s.b.calls++
	if s.b.closed {
		s.b.callsAfter++
	}
	if s.b.failAt[n] || (s.b.failFrom > 0 && n >= s.b.failFrom) {
		return errFake
	}
	dst.Pix()[0] = byte(n)
	return nil
}

func (s *fakeSource) Close() error {
	s.b.mu.Lock()
	s.b.closed = true
	s.b.mu.Unlock()
	return nil
}

func (s *fakePointerSource) Pointer() (image.Point, bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.pointerCalls++
	return *s.b.pointer, true, nil
}

type fakeSurface struct {
	Surface
	b *fakeBackend
}

func (s *fakeSurface) Release() {
	s.b.mu.Lock()
	s.b.released++
	s.b.mu.Unlock()
	s.Surface.Release()
}

type fakeIndicator struct {
	mu      sync.Mutex
	showErr error
	shown   []image.Rectangle
	hidden  int
	pumps   int
}

func (f *fakeIndicator) Show(r image.Rectangle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, r)
	return f.showErr
}

func (f *fakeIndicator) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden++
}

func (f *fakeIndicator) PumpEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pumps++
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFake() *fakeBackend {
	return &fakeBackend{bounds: image.Rect(0, 0, 32, 16), bpp: 32}
}

func startWorker(t *testing.T, b *fakeBackend, opts Options) *Worker {
	t.Helper()
	if opts.Period == 0 {
		opts.Period = 2 * time.Millisecond
	}
	w, err := Start(context.Background(), b, opts, testLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func nextWithin(t *testing.T, w *Worker, d time.Duration) (Packet, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return w.Next(ctx)
}

func TestWorkerDeliversFramesInOrder(t *testing.T) {
	b := newFake()
	w := startWorker(t, b, Options{})

	if got := w.Format(); got.Width != 32 || got.Height != 16 || got.Stride != 128 || got.Size != 2048 {
		t.Fatalf("unexpected format %+v", got)
	}
	var lastSeq uint64
	var lastTS int64
	for i := 0; i < 6; i++ {
		p, err := nextWithin(t, w, 2*time.Second)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if len(p.Payload) != w.PacketSize() {
			t.Fatalf("payload length %d want %d", len(p.Payload), w.PacketSize())
		}
		if p.Payload[54] != byte(p.Seq) {
			t.Fatalf("frame %d carries marker %d", p.Seq, p.Payload[54])
		}
		if i > 0 && (p.Seq <= lastSeq || p.TimestampMicros <= lastTS) {
			t.Fatalf("out of order: seq %d after %d, ts %d after %d", p.Seq, lastSeq, p.TimestampMicros, lastTS)
		}
		lastSeq, lastTS = p.Seq, p.TimestampMicros
	}
}

func TestWorkerFirstCaptureFailureIsFatal(t *testing.T) {
	b := newFake()
	b.failAt = map[int]bool{0: true}
	w := startWorker(t, b, Options{})

	_, err := nextWithin(t, w, 2*time.Second)
	if !errors.Is(err, ErrSlotClosed) || !errors.Is(err, ErrCapture) || !errors.Is(err, errFake) {
		t.Fatalf("expected terminal capture error, got %v", err)
	}
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	_, again := w.TryNext()
	if again == nil || again.Error() != err.Error() {
		t.Fatalf("terminal error changed: %v then %v", err, again)
	}
	if stopErr := w.Stop(); !IsFatal(stopErr) {
		t.Fatalf("Stop returned %v", stopErr)
	}
	if d := w.Stats().Delivered; d != 0 {
		t.Fatalf("delivered %d frames", d)
	}
}

func TestWorkerSkipsTransientFailure(t *testing.T) {
	b := newFake()
	b.failAt = map[int]bool{5: true}
	b.failFrom = 10
	w := startWorker(t, b, Options{})

	var seqs []uint64
	for i := 0; i < 9; i++ {
		p, err := nextWithin(t, w, 2*time.Second)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		seqs = append(seqs, p.Seq)
	}
	want := []uint64{0, 1, 2, 3, 4, 6, 7, 8, 9}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("seqs %v want %v", seqs, want)
		}
	}
	if _, err := nextWithin(t, w, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no tenth frame, got %v", err)
	}
	if s := w.Stats(); s.Failed < 1 {
		t.Fatalf("failures not counted: %+v", s)
	}
}

func TestWorkerStopUnblocksNext(t *testing.T) {
	b := newFake()
	b.failFrom = 1
	w := startWorker(t, b, Options{})

	if _, err := nextWithin(t, w, 2*time.Second); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := w.Next(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrSlotClosed) {
			t.Fatalf("expected ErrSlotClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next still blocked after Stop")
	}
}

func TestWorkerStopReleasesBuffers(t *testing.T) {
	b := newFake()
	w := startWorker(t, b, Options{})
	if _, err := nextWithin(t, w, 2*time.Second); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	calls, released, closed := b.snapshot()
	if released != 2 || !closed {
		t.Fatalf("released=%d closed=%v", released, closed)
	}
	time.Sleep(20 * time.Millisecond)
	if after, _, _ := b.snapshot(); after != calls {
		t.Fatalf("backend called after Stop: %d -> %d", calls, after)
	}
	if _, err := w.TryNext(); !errors.Is(err, ErrSlotClosed) {
		t.Fatalf("pull after Stop: %v", err)
	}
}

func TestWorkerTryNext(t *testing.T) {
	b := newFake()
	b.gate = make(chan struct{})
	w := startWorker(t, b, Options{})

	if _, err := w.TryNext(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}
	close(b.gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		p, err := w.TryNext()
		if err == nil {
			if p.Seq != 0 {
				t.Fatalf("first frame has seq %d", p.Seq)
			}
			return
		}
		if !errors.Is(err, ErrNoFrame) {
			t.Fatalf("TryNext: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("no frame became ready")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerContextCancelStops(t *testing.T) {
	b := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	w, err := Start(ctx, b, Options{Period: 2 * time.Millisecond}, testLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit on cancel")
	}
	if _, _, closed := b.snapshot(); !closed {
		t.Fatalf("source not closed")
	}
}

func TestStartRejectsRegionOutsideTarget(t *testing.T) {
	b := newFake()
	_, err := Start(context.Background(), b, Options{
		Period: time.Millisecond,
		Region: Region{X: 20, Y: 0, Width: 20, Height: 8},
	}, testLogger())
	if !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}
	if calls, _, closed := b.snapshot(); calls != 0 || !closed {
		t.Fatalf("calls=%d closed=%v", calls, closed)
	}
}

func TestStartOpenFailure(t *testing.T) {
	b := newFake()
	b.openErr = ErrWindowNotFound
	_, err := Start(context.Background(), b, Options{Period: time.Millisecond}, testLogger())
	if !errors.Is(err, ErrBackendInit) || !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("expected backend init error, got %v", err)
	}
}

func TestStartRequiresPeriod(t *testing.T) {
	if _, err := Start(context.Background(), newFake(), Options{}, testLogger()); err == nil {
		t.Fatalf("expected error for zero period")
	}
}

func TestWorkerShowRegion(t *testing.T) {
	b := newFake()
	ind := &fakeIndicator{}
	w := startWorker(t, b, Options{ShowRegion: true, Indicator: ind, Region: Region{X: 4, Y: 2, Width: 8, Height: 8}})
	if _, err := nextWithin(t, w, 2*time.Second); err != nil {
		t.Fatalf("Next: %v", err)
	}
	_ = w.Stop()
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if len(ind.shown) != 1 || ind.shown[0] != image.Rect(4, 2, 12, 10) {
		t.Fatalf("shown %v", ind.shown)
	}
	if ind.hidden != 1 || ind.pumps == 0 {
		t.Fatalf("hidden=%d pumps=%d", ind.hidden, ind.pumps)
	}
}

func TestWorkerShowRegionIgnoredForWindow(t *testing.T) {
	b := newFake()
	ind := &fakeIndicator{}
	target, _ := Window("Editor")
	w := startWorker(t, b, Options{Target: target, ShowRegion: true, Indicator: ind})
	if _, err := nextWithin(t, w, 2*time.Second); err != nil {
		t.Fatalf("Next: %v", err)
	}
	_ = w.Stop()
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if len(ind.shown) != 0 || ind.hidden != 0 {
		t.Fatalf("indicator used for window target: shown=%v hidden=%d", ind.shown, ind.hidden)
	}
}

func TestWorkerDrawsPointer(t *testing.T) {
	b := newFake()
	b.pointer = &image.Point{X: 2, Y: 2}
	w := startWorker(t, b, Options{DrawMouse: true})
	p, err := nextWithin(t, w, 2*time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	// glyph row 2 is "X.X": fill at glyph (1,2) lands on frame (3,4)
	off := 54 + 4*128 + 3*4
	for i := 0; i < 4; i++ {
		if p.Payload[off+i] != 0xff {
			t.Fatalf("fill pixel byte %d = %#x", i, p.Payload[off+i])
		}
	}
	// glyph (0,2) is outline
	off = 54 + 4*128 + 2*4
	if p.Payload[off] != 0 || p.Payload[off+1] != 0 || p.Payload[off+2] != 0 {
		t.Fatalf("outline pixel not black: % x", p.Payload[off:off+4])
	}
}

func TestWorkerBitRate(t *testing.T) {
	b := newFake()
	w := startWorker(t, b, Options{Period: 100 * time.Millisecond})
	// (54 + 2048) bytes * 10 fps * 8 bits
	if got := w.BitRate(); got != 168160 {
		t.Fatalf("BitRate = %d", got)
	}
}

func TestWorkerStopDuringCaptureSkipsPublish(t *testing.T) {
	b := newFake()
	b.gate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	b.pointer = &image.Point{X: 2, Y: 2}
	w := startWorker(t, b, Options{DrawMouse: true})

	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first capture never started")
	}
	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()

	// Stop closes the slot before it waits for the worker.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := w.TryNext()
		if errors.Is(err, ErrSlotClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot still open after Stop: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	close(b.gate)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return after the capture finished")
	}
	if s := w.Stats(); s.Captures != 1 || s.Published != 0 {
		t.Fatalf("stats after stop: %+v", s)
	}
	b.mu.Lock()
	pointerCalls := b.pointerCalls
	b.mu.Unlock()
	if pointerCalls != 0 {
		t.Fatalf("pointer located %d times for an unpublished frame", pointerCalls)
	}
	if _, err := w.Next(context.Background()); !errors.Is(err, ErrSlotClosed) {
		t.Fatalf("Next after Stop: %v", err)
	}
}

func TestWorkerPacingConvergesToPeriod(t *testing.T) {
	const period = 5 * time.Millisecond
	const frames = 120
	w := startWorker(t, newFake(), Options{Period: period})

	var first, last Packet
	for i := 0; i < frames; i++ {
		p, err := nextWithin(t, w, 2*time.Second)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if i == 0 {
			first = p
		}
		last = p
	}
	if last.Seq-first.Seq != frames-1 {
		t.Fatalf("frames dropped: seq %d..%d", first.Seq, last.Seq)
	}
	avg := time.Duration(last.TimestampMicros-first.TimestampMicros) * time.Microsecond / (frames - 1)
	if avg < period*95/100 || avg > period*110/100 {
		t.Fatalf("average frame interval %v, want about %v", avg, period)
	}
}

func TestWorkerNextNilContext(t *testing.T) {
	w := startWorker(t, newFake(), Options{})
	var ctx context.Context
	p, err := w.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(p.Payload) != w.PacketSize() {
		t.Fatalf("payload length %d", len(p.Payload))
	}
}

func TestWorkerRunsWithoutFailedIndicator(t *testing.T) {
	b := newFake()
	ind := &fakeIndicator{showErr: errors.New("tk not running")}
	w := startWorker(t, b, Options{ShowRegion: true, Indicator: ind})
	if _, err := nextWithin(t, w, 2*time.Second); err != nil {
		t.Fatalf("Next: %v", err)
	}
	_ = w.Stop()
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if len(ind.shown) != 1 || ind.pumps != 0 || ind.hidden != 0 {
		t.Fatalf("failed indicator still used: shown=%d pumps=%d hidden=%d", len(ind.shown), ind.pumps, ind.hidden)
	}
}
