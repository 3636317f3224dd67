package app

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/soocke/framegrab/config"
	"github.com/soocke/framegrab/domain/capture"
	"github.com/soocke/framegrab/ui/images"
)

// FrameSink receives assembled packets in delivery order.
type FrameSink interface {
	Write(p capture.Packet) error
	Close() error
}

// NewFrameSink builds the sink selected by cfg. Stream output goes to w.
func NewFrameSink(cfg config.OutputConfig, w io.Writer) (FrameSink, error) {
	switch cfg.Mode {
	case config.OutputDir:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: create %s: %w", cfg.Dir, err)
		}
		return &dirSink{dir: cfg.Dir}, nil
	case config.OutputStream:
		return &streamSink{w: bufio.NewWriterSize(w, 1<<20)}, nil
	case config.OutputDiscard:
		return discardSink{}, nil
	}
	return nil, fmt.Errorf("sink: unknown output mode %q", cfg.Mode)
}

// dirSink stores each packet as its own .bmp file named by sequence and
// timestamp.
type dirSink struct {
	dir string
}

func (s *dirSink) Write(p capture.Packet) error {
	name := filepath.Join(s.dir, fmt.Sprintf("frame_%08d_%d.bmp", p.Seq, p.TimestampMicros))
	return writeFileAtomic(name, p.Payload)
}

func (s *dirSink) Close() error { return nil }

// streamSink concatenates packets; every packet is a complete bitmap file.
type streamSink struct {
	w *bufio.Writer
}

func (s *streamSink) Write(p capture.Packet) error {
	_, err := s.w.Write(p.Payload)
	return err
}

func (s *streamSink) Close() error { return s.w.Flush() }

type discardSink struct{}

func (discardSink) Write(capture.Packet) error { return nil }
func (discardSink) Close() error               { return nil }

// previewWriter refreshes a PNG thumbnail every few frames.
type previewWriter struct {
	cfg    config.PreviewConfig
	logger *slog.Logger
	n      int
	failed bool
}

func newPreviewWriter(cfg config.PreviewConfig, logger *slog.Logger) *previewWriter {
	if cfg.Path == "" {
		return nil
	}
	return &previewWriter{cfg: cfg, logger: logger}
}

// Observe writes a preview for every Every-th packet. Failures are logged
// once and never stop the capture.
func (w *previewWriter) Observe(p capture.Packet) {
	if w == nil {
		return
	}
	w.n++
	if (w.n-1)%w.cfg.Every != 0 {
		return
	}
	data, err := images.PreviewPNG(p.Payload, w.cfg.MaxWidth, w.cfg.MaxHeight)
	if err == nil {
		err = writeFileAtomic(w.cfg.Path, data)
	}
	if err != nil && !w.failed {
		w.logger.Warn("preview write failed", "path", w.cfg.Path, "error", err)
		w.failed = true
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
