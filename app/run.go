package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soocke/framegrab/domain/capture"
)

const statsInterval = 10 * time.Second

// Summary describes a finished run.
type Summary struct {
	Frames  uint64
	Bytes   uint64
	Elapsed time.Duration
	Stats   capture.CaptureStats
}

// Run starts the capture worker and forwards packets to the sink until the
// configured frame or duration limit is reached, ctx is cancelled or the
// worker fails.
func Run(ctx context.Context, c *AppContainer) (Summary, error) {
	var sum Summary
	if d := c.Config.Output.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	w, err := capture.Start(ctx, c.Backend, c.Options, c.Logger)
	if err != nil {
		c.Sink.Close()
		return sum, err
	}
	logger := c.Logger.With("run_id", w.RunID())
	logger.Info("capture running",
		"clip", w.Clip().String(),
		"framerate", c.Rate.String(),
		"fps", fmt.Sprintf("%.3f", c.Rate.FPS()),
		"output", c.Config.Output.Mode,
		"packet_size", humanize.IBytes(uint64(w.PacketSize())),
	)

	began := time.Now()
	lastStats := began
	limit := c.Config.Output.Frames
	var runErr error
	for limit == 0 || sum.Frames < uint64(limit) {
		p, err := w.Next(ctx)
		if err != nil {
			if !errors.Is(err, capture.ErrSlotClosed) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				runErr = err
			}
			break
		}
		if err := c.Sink.Write(p); err != nil {
			runErr = fmt.Errorf("sink: frame %d: %w", p.Seq, err)
			break
		}
		c.Preview.Observe(p)
		sum.Frames++
		sum.Bytes += uint64(len(p.Payload))
		if now := time.Now(); now.Sub(lastStats) >= statsInterval {
			lastStats = now
			st := w.Stats()
			logger.Info("capture progress",
				"frames", sum.Frames,
				"written", humanize.IBytes(sum.Bytes),
				"failed", st.Failed,
				"avg_capture", st.AvgCapture,
				"balance", st.PacingBalance,
			)
		}
	}

	if err := w.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	if err := c.Sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("sink: close: %w", err)
	}
	sum.Elapsed = time.Since(began)
	sum.Stats = w.Stats()
	logger.Info("capture finished",
		"frames", sum.Frames,
		"written", humanize.IBytes(sum.Bytes),
		"elapsed", sum.Elapsed.Round(time.Millisecond),
		"captures", sum.Stats.Captures,
		"failed", sum.Stats.Failed,
	)
	return sum, runErr
}
