package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/soocke/framegrab/config"
	"github.com/soocke/framegrab/domain/capture"
)

// AppContainer assembles the backend, worker options and sinks for one run.
type AppContainer struct {
	Config  *config.Config
	Logger  *slog.Logger
	Backend capture.Backend
	Options capture.Options
	Rate    config.Framerate
	Sink    FrameSink
	Preview *previewWriter
}

// BuildContainer constructs all components. The indicator may be nil; it is
// only used when cfg.ShowRegion is set.
func BuildContainer(cfg *config.Config, logger *slog.Logger, indicator capture.RegionIndicator, stream io.Writer) (*AppContainer, error) {
	target, err := capture.ParseTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	rate, err := config.ParseFramerate(cfg.Framerate)
	if err != nil {
		return nil, err
	}
	backend, err := capture.OpenBackend(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	sink, err := NewFrameSink(cfg.Output, stream)
	if err != nil {
		return nil, err
	}
	c := &AppContainer{
		Config:  cfg,
		Logger:  logger,
		Backend: backend,
		Rate:    rate,
		Sink:    sink,
		Preview: newPreviewWriter(cfg.Preview, logger),
		Options: capture.Options{
			Target: target,
			Region: capture.Region{
				X:      cfg.OffsetX,
				Y:      cfg.OffsetY,
				Width:  cfg.Width,
				Height: cfg.Height,
			},
			Period:     rate.Period(),
			DrawMouse:  cfg.DrawMouse,
			ShowRegion: cfg.ShowRegion,
			Indicator:  indicator,
		},
	}
	if c.Options.Period <= 0 {
		return nil, fmt.Errorf("app: framerate %s yields no usable period", rate)
	}
	return c, nil
}
