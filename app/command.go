package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soocke/framegrab/config"
	"github.com/soocke/framegrab/debug"
	"github.com/soocke/framegrab/domain/capture"
)

const debugLogInterval = 5 * time.Second

// Outline is a region indicator that owns an event loop. Run must be called
// on the main goroutine and returns once ctx is done or the user closes it.
type Outline interface {
	capture.RegionIndicator
	Run(ctx context.Context)
}

// CommandOptions injects the process level pieces the command cannot build
// itself.
type CommandOptions struct {
	NewLogger  func(level, format string) *slog.Logger
	NewOutline func(logger *slog.Logger) Outline
	Stdout     io.Writer
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"backend":       "backend",
	"width":         "width",
	"height":        "height",
	"offset-x":      "offset_x",
	"offset-y":      "offset_y",
	"framerate":     "framerate",
	"draw-mouse":    "draw_mouse",
	"show-region":   "show_region",
	"debug":         "debug",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"output":        "output.mode",
	"dir":           "output.dir",
	"frames":        "output.frames",
	"duration":      "output.duration",
	"preview":       "preview.path",
	"preview-every": "preview.every",
}

// NewRootCommand builds the framegrab command line.
func NewRootCommand(opts CommandOptions) *cobra.Command {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	var cfgPath, savePath string
	v := config.NewViper()
	d := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "framegrab [target]",
		Short: "Capture the desktop or a window as a stream of BMP frames",
		Long: `framegrab captures a region of the desktop, or the client area of a window,
at a fixed frame rate and writes every frame as a complete BMP file.

Targets:
  desktop           the whole virtual screen (default)
  title=NAME        the window whose title is NAME
  window:NAME       same as title=NAME; NAME may be a glob such as "*Firefox*"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("target", args[0])
			}
			cfg, err := config.LoadInto(v, cfgPath)
			if err != nil {
				return err
			}
			if savePath != "" {
				if err := cfg.Save(savePath); err != nil {
					return fmt.Errorf("config: save %s: %w", savePath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", savePath)
				return nil
			}
			return execute(cmd.Context(), cfg, opts)
		},
	}

	f := root.Flags()
	f.StringVarP(&cfgPath, "config", "c", "", "config file (json, yaml or toml)")
	f.StringVar(&savePath, "save-config", "", "write the resolved configuration as JSON to this path and exit")
	f.String("backend", d.Backend, "capture backend: auto, "+strings.Join(capture.Backends(), ", "))
	f.Int("width", d.Width, "capture width, 0 for the full target")
	f.Int("height", d.Height, "capture height, 0 for the full target")
	f.Int("offset-x", d.OffsetX, "left edge of the capture region")
	f.Int("offset-y", d.OffsetY, "top edge of the capture region")
	f.StringP("framerate", "r", d.Framerate, "frame rate: ntsc, pal, film, ntsc-film, N or N/D")
	f.Bool("draw-mouse", d.DrawMouse, "draw the mouse pointer into frames")
	f.Bool("show-region", d.ShowRegion, "outline the captured desktop region on screen")
	f.Bool("debug", d.Debug, "log goroutine and memory statistics")
	f.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	f.String("log-format", d.Log.Format, "log format: auto, text, json")
	f.StringP("output", "o", d.Output.Mode, "output mode: dir, stream, discard")
	f.String("dir", d.Output.Dir, "directory for dir output")
	f.IntP("frames", "n", d.Output.Frames, "stop after this many frames, 0 for no limit")
	f.DurationP("duration", "t", d.Output.Duration, "stop after this long, 0 for no limit")
	f.String("preview", d.Preview.Path, "write a PNG thumbnail to this path")
	f.Int("preview-every", d.Preview.Every, "refresh the thumbnail every N frames")
	for name, key := range flagKeys {
		mustBind(v, key, root, name)
	}

	root.AddCommand(&cobra.Command{
		Use:   "backends",
		Short: "List capture backends available on this platform",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for i, name := range capture.Backends() {
				suffix := ""
				if i == 0 {
					suffix = " (auto)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", name, suffix)
			}
		},
	})
	return root
}

func mustBind(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func execute(ctx context.Context, cfg *config.Config, opts CommandOptions) error {
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}
	logger := slog.Default()
	if opts.NewLogger != nil {
		logger = opts.NewLogger(cfg.Log.Level, cfg.Log.Format)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Debug {
		debug.StartGoroutineLogger(ctx, debugLogInterval, logger)
		debug.StartMemLogger(ctx, debugLogInterval, logger)
	}

	var outline Outline
	if cfg.ShowRegion && opts.NewOutline != nil {
		if t, err := capture.ParseTarget(cfg.Target); err == nil && !t.IsWindow() {
			outline = opts.NewOutline(logger)
		}
	}
	var indicator capture.RegionIndicator
	if outline != nil {
		indicator = outline
	}
	c, err := BuildContainer(cfg, logger, indicator, opts.Stdout)
	if err != nil {
		return err
	}
	if outline == nil {
		_, err = Run(ctx, c)
		return quiet(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := Run(ctx, c)
		cancel()
		errc <- err
	}()
	outline.Run(ctx)
	cancel()
	return quiet(<-errc)
}

// quiet drops errors that only report an orderly shutdown.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
