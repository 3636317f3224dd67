//go:build unix

package debug

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// StartMemLogger logs memory stats every interval until ctx is done. The
// peak resident set comes from getrusage.
func StartMemLogger(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var rusageErrLogged bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			var peak uint64
			var ru unix.Rusage
			if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
				peak = uint64(ru.Maxrss)
				// Linux and the BSDs report kilobytes, darwin bytes.
				if runtime.GOOS != "darwin" {
					peak *= 1024
				}
			} else if !rusageErrLogged {
				logger.Warn("memlog: getrusage failed", slog.String("err", err.Error()))
				rusageErrLogged = true
			}
			logger.Debug("memstats",
				slog.Int("goroutines", runtime.NumGoroutine()),
				slog.String("heap_alloc", humanize.IBytes(ms.HeapAlloc)),
				slog.String("heap_inuse", humanize.IBytes(ms.HeapInuse)),
				slog.String("heap_sys", humanize.IBytes(ms.HeapSys)),
				slog.String("next_gc", humanize.IBytes(ms.NextGC)),
				slog.String("max_rss", humanize.IBytes(peak)),
				slog.Uint64("num_gc", uint64(ms.NumGC)),
			)
		}
	}()
}
