package view

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soocke/framegrab/ui/model"

	//lint:ignore ST1001 Dot import is intentional for concise Tk widget DSL builders
	. "modernc.org/tk9.0"
)

const (
	outlinePoll        = 30 * time.Millisecond
	outlineShowTimeout = 2 * time.Second
)

var errOutlineClosed = errors.New("outline: tk loop not running")

type outlineRequest struct {
	rect  image.Rectangle
	hide  bool
	reply chan error
}

// RegionOutline draws a white frame around the capture region using four
// borderless topmost Tk windows. Tk is single threaded, so Show and Hide
// queue requests that Run applies on the Tk goroutine.
type RegionOutline struct {
	logger   *slog.Logger
	requests chan outlineRequest
	bars     []*ToplevelWidget
	pumps    atomic.Uint64
	closed   chan struct{}
	once     sync.Once
}

func NewRegionOutline(logger *slog.Logger) *RegionOutline {
	return &RegionOutline{
		logger:   logger,
		requests: make(chan outlineRequest, 4),
		closed:   make(chan struct{}),
	}
}

// Show queues the outline and waits until Tk has drawn it.
func (o *RegionOutline) Show(r image.Rectangle) error {
	req := outlineRequest{rect: r, reply: make(chan error, 1)}
	select {
	case o.requests <- req:
	case <-o.closed:
		return errOutlineClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-o.closed:
		return errOutlineClosed
	case <-time.After(outlineShowTimeout):
		return errors.New("outline: timed out waiting for tk")
	}
}

// Hide removes the outline. It never blocks the caller.
func (o *RegionOutline) Hide() {
	select {
	case o.requests <- outlineRequest{hide: true}:
	case <-o.closed:
	default:
		o.logger.Debug("outline hide dropped, request queue full")
	}
}

// PumpEvents counts worker iterations; Tk events are serviced by Run.
func (o *RegionOutline) PumpEvents() { o.pumps.Add(1) }

// Run drives the Tk event loop on the calling goroutine until ctx is done.
// It must be called from the main goroutine.
func (o *RegionOutline) Run(ctx context.Context) {
	App.WmTitle("framegrab")
	WmGeometry(App, "1x1+0+0")
	WmAttributes(App, "-alpha", 0.0)
	var afterID string
	var poll func()
	poll = func() {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		default:
		}
	drain:
		for {
			select {
			case req := <-o.requests:
				o.apply(req)
			default:
				break drain
			}
		}
		afterID = TclAfter(outlinePoll, poll)
	}
	WmProtocol(App, "WM_DELETE_WINDOW", func() {
		if afterID != "" {
			TclAfterCancel(afterID)
		}
		o.shutdown()
	})
	afterID = TclAfter(outlinePoll, poll)
	App.Wait()
	o.once.Do(func() { close(o.closed) })
}

func (o *RegionOutline) shutdown() {
	o.destroyBars()
	o.once.Do(func() { close(o.closed) })
	o.logger.Debug("outline closed", "pumps", o.pumps.Load())
	Destroy(App)
}

func (o *RegionOutline) apply(req outlineRequest) {
	o.destroyBars()
	if req.hide {
		return
	}
	for _, r := range model.OutlineFor(req.rect, model.OutlineBorder).Rects() {
		win := App.Toplevel(Borderwidth(0), Background("#FFFFFF"))
		WmGeometry(win.Window, model.Geometry(r))
		if got, ok := model.ParseGeometry(WmGeometry(win.Window)); ok && got != r {
			o.logger.Debug("outline bar placed elsewhere", "want", r.String(), "got", got.String())
		}
		WmAttributes(win.Window, "-topmost", 1)
		switch runtime.GOOS {
		case "windows":
			WmAttributes(win.Window, "-toolwindow", true)
		case "linux", "freebsd", "openbsd", "netbsd":
			WmAttributes(win.Window, "-type", "splash")
		}
		o.bars = append(o.bars, win)
	}
	o.logger.Debug("outline shown", "rect", req.rect.String())
	if req.reply != nil {
		req.reply <- nil
	}
}

func (o *RegionOutline) destroyBars() {
	for _, b := range o.bars {
		Destroy(b)
	}
	o.bars = nil
}
