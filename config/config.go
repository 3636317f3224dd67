package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for capture and output behaviour.
// Fields may be loaded from a config file, FRAMEGRAB_* environment variables
// and command-line flags, in increasing order of precedence.
type Config struct {
	Debug bool `json:"debug" mapstructure:"debug"`

	// Capture source
	Target  string `json:"target" mapstructure:"target"`
	Backend string `json:"backend" mapstructure:"backend"`
	Width   int    `json:"width" mapstructure:"width"`
	Height  int    `json:"height" mapstructure:"height"`
	OffsetX int    `json:"offset_x" mapstructure:"offset_x"`
	OffsetY int    `json:"offset_y" mapstructure:"offset_y"`

	Framerate  string `json:"framerate" mapstructure:"framerate"`
	DrawMouse  bool   `json:"draw_mouse" mapstructure:"draw_mouse"`
	ShowRegion bool   `json:"show_region" mapstructure:"show_region"`

	Log     LogConfig     `json:"log" mapstructure:"log"`
	Output  OutputConfig  `json:"output" mapstructure:"output"`
	Preview PreviewConfig `json:"preview" mapstructure:"preview"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // auto, json or text
}

// OutputConfig selects where assembled frames go.
type OutputConfig struct {
	Mode     string        `json:"mode" mapstructure:"mode"` // dir, stream or discard
	Dir      string        `json:"dir" mapstructure:"dir"`
	Frames   int           `json:"frames" mapstructure:"frames"`
	Duration time.Duration `json:"duration" mapstructure:"duration"`
}

// PreviewConfig writes a scaled PNG of every Every-th frame to Path.
type PreviewConfig struct {
	Path      string `json:"path" mapstructure:"path"`
	Every     int    `json:"every" mapstructure:"every"`
	MaxWidth  int    `json:"max_width" mapstructure:"max_width"`
	MaxHeight int    `json:"max_height" mapstructure:"max_height"`
}

const (
	OutputDir     = "dir"
	OutputStream  = "stream"
	OutputDiscard = "discard"
)

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:      false,
		Target:     "desktop",
		Backend:    "auto",
		Framerate:  "ntsc",
		DrawMouse:  true,
		ShowRegion: false,
		Log:        LogConfig{Level: "info", Format: "auto"},
		Output:     OutputConfig{Mode: OutputDir, Dir: "frames"},
		Preview:    PreviewConfig{Every: 30, MaxWidth: 320, MaxHeight: 240},
	}
}

// SetDefaults registers DefaultConfig values with viper so keys resolve even
// without a config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("target", d.Target)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("width", d.Width)
	v.SetDefault("height", d.Height)
	v.SetDefault("offset_x", d.OffsetX)
	v.SetDefault("offset_y", d.OffsetY)
	v.SetDefault("framerate", d.Framerate)
	v.SetDefault("draw_mouse", d.DrawMouse)
	v.SetDefault("show_region", d.ShowRegion)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("output.mode", d.Output.Mode)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.frames", d.Output.Frames)
	v.SetDefault("output.duration", d.Output.Duration)
	v.SetDefault("preview.path", d.Preview.Path)
	v.SetDefault("preview.every", d.Preview.Every)
	v.SetDefault("preview.max_width", d.Preview.MaxWidth)
	v.SetDefault("preview.max_height", d.Preview.MaxHeight)
}

// NewViper returns a viper instance with defaults and FRAMEGRAB_ environment
// binding applied. Nested keys map to env vars with dots replaced by
// underscores, e.g. FRAMEGRAB_OUTPUT_DIR for output.dir.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("FRAMEGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper decodes v into a validated Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate clamps/normalizes values to safe ranges and rejects settings that
// cannot be repaired.
func (c *Config) Validate() error {
	if c.Target == "" {
		c.Target = "desktop"
	}
	if c.Backend == "" {
		c.Backend = "auto"
	}
	if c.Framerate == "" {
		c.Framerate = "ntsc"
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("config: negative capture size %dx%d", c.Width, c.Height)
	}
	if _, err := ParseFramerate(c.Framerate); err != nil {
		return err
	}
	switch c.Output.Mode {
	case "":
		c.Output.Mode = OutputDir
	case OutputDir, OutputStream, OutputDiscard:
	default:
		return fmt.Errorf("config: unknown output mode %q", c.Output.Mode)
	}
	if c.Output.Mode == OutputDir && c.Output.Dir == "" {
		c.Output.Dir = "frames"
	}
	if c.Output.Frames < 0 {
		c.Output.Frames = 0
	}
	if c.Output.Duration < 0 {
		c.Output.Duration = 0
	}
	if c.Preview.Every <= 0 {
		c.Preview.Every = 30
	}
	if c.Preview.MaxWidth <= 0 {
		c.Preview.MaxWidth = 320
	}
	if c.Preview.MaxHeight <= 0 {
		c.Preview.MaxHeight = 240
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	return nil
}

// Load reads configuration from path (JSON, YAML or TOML by extension) on
// top of defaults and FRAMEGRAB_ environment variables. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	return LoadInto(NewViper(), path)
}

// LoadInto reads path into v and decodes the result. Values already set on
// v, such as bound command-line flags, keep their precedence over the file.
// A missing file leaves v unchanged.
func LoadInto(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return DefaultConfig(), fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}
	return FromViper(v)
}

// Save writes the configuration to the given path in JSON format.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
