package capture

import (
	"log/slog"
	"sync/atomic"
	"time"
)

const captureStatsLogInterval = 5 * time.Second

// captureMetrics is written by the worker and read from any goroutine.
type captureMetrics struct {
	captures      atomic.Uint64
	failed        atomic.Uint64
	published     atomic.Uint64
	delivered     atomic.Uint64
	captureNanos  atomic.Uint64
	balanceNanos  atomic.Int64
	lastPublished atomic.Int64 // unix nanos
}

func (m *captureMetrics) observeCapture(d time.Duration, err error) {
	m.captures.Add(1)
	m.captureNanos.Add(uint64(d.Nanoseconds()))
	if err != nil {
		m.failed.Add(1)
	}
}

func (m *captureMetrics) observePublish(at time.Time) {
	m.published.Add(1)
	m.lastPublished.Store(at.UnixNano())
}

func (m *captureMetrics) snapshot() CaptureStats {
	captures := m.captures.Load()
	total := m.captureNanos.Load()
	var avg time.Duration
	if captures > 0 && total > 0 {
		avg = time.Duration(total / captures)
	}
	stats := CaptureStats{
		Captures:      captures,
		Failed:        m.failed.Load(),
		Published:     m.published.Load(),
		Delivered:     m.delivered.Load(),
		AvgCapture:    avg,
		PacingBalance: time.Duration(m.balanceNanos.Load()),
	}
	if ns := m.lastPublished.Load(); ns != 0 {
		stats.LastPublished = time.Unix(0, ns)
		stats.LatestFrameAge = time.Since(stats.LastPublished)
	}
	return stats
}

func (m *captureMetrics) log(logger *slog.Logger) {
	if logger == nil {
		return
	}
	stats := m.snapshot()
	logger.Debug("capture.stats",
		"captures", stats.Captures,
		"failed", stats.Failed,
		"published", stats.Published,
		"delivered", stats.Delivered,
		"avg_capture", stats.AvgCapture,
		"balance", stats.PacingBalance,
		"age", stats.LatestFrameAge,
	)
}
