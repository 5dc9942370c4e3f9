// Package config handles viewer configuration loading and management.
package config

import (
	"errors"
	"fmt"
)

// Memory profiles.
const (
	ProfileBase     = "base"
	ProfileExpanded = "expanded"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all viewer settings.
type Config struct {
	Profile   string          `yaml:"profile"`
	Graphics  GraphicsConfig  `yaml:"graphics"`
	Cache     CacheConfig     `yaml:"cache"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Render    RenderConfig    `yaml:"render"`
	Controls  ControlsConfig  `yaml:"controls"`
	Data      DataConfig      `yaml:"data"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DataConfig holds asset locations.
type DataConfig struct {
	PackPath string `yaml:"pack_path"`
	Level    string `yaml:"level"` // empty loads the first level in the pack
}

// GraphicsConfig holds display and projection settings.
type GraphicsConfig struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Fullscreen bool    `yaml:"fullscreen"`
	VSync      bool    `yaml:"vsync"`
	FOV        float32 `yaml:"fov"` // vertical, degrees
	Near       float32 `yaml:"near"`
	Far        float32 `yaml:"far"`
}

// CacheConfig sizes the tile cache. Zero entry count takes the profile value.
type CacheConfig struct {
	EntryCount          int `yaml:"entry_count"`
	MaxRequestsPerFrame int `yaml:"max_requests_per_frame"`
	QueueDepth          int `yaml:"queue_depth"`
}

// FeedbackConfig tunes the LOD bias controller.
type FeedbackConfig struct {
	MinBias         float32 `yaml:"min_bias"`
	MaxBias         float32 `yaml:"max_bias"`
	FailureStep     float32 `yaml:"failure_step"`
	IncreaseStep    float32 `yaml:"increase_step"`
	DecreaseStep    float32 `yaml:"decrease_step"`
	SoftMinRequests int     `yaml:"soft_min_requests"`
	SpareFraction   float32 `yaml:"spare_fraction"`
}

// RenderConfig sizes the per-frame command buffer. Zero takes the profile
// value.
type RenderConfig struct {
	DisplayListLength int `yaml:"display_list_length"`
}

// ControlsConfig holds fly camera speeds.
type ControlsConfig struct {
	MoveSpeed float32 `yaml:"move_speed"` // world units per second
	TurnSpeed float32 `yaml:"turn_speed"` // radians per second
}

// TelemetryConfig enables the statistics stream. Empty Listen disables it.
type TelemetryConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// profileSizes are the display list and cache sizes of each profile.
var profileSizes = map[string]struct {
	displayList int
	entries     int
}{
	ProfileBase:     {displayList: 3600, entries: 1024},
	ProfileExpanded: {displayList: 14400, entries: 2048},
}

// Default returns a Config with sensible default values. Sizes tied to the
// memory profile stay zero until Resolve.
func Default() *Config {
	return &Config{
		Profile: ProfileBase,
		Graphics: GraphicsConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
			FOV:        70,
			Near:       0.5,
			Far:        2000,
		},
		Cache: CacheConfig{
			MaxRequestsPerFrame: 32,
			QueueDepth:          64,
		},
		Feedback: FeedbackConfig{
			MinBias:         0,
			MaxBias:         8,
			FailureStep:     0.5,
			IncreaseStep:    0.1,
			DecreaseStep:    0.02,
			SoftMinRequests: 8,
			SpareFraction:   0.25,
		},
		Controls: ControlsConfig{
			MoveSpeed: 20,
			TurnSpeed: 1.5,
		},
		Data: DataConfig{
			PackPath: "level.mtpk",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Resolve fills sizes left at zero from the memory profile.
func (c *Config) Resolve() error {
	sizes, ok := profileSizes[c.Profile]
	if !ok {
		return fmt.Errorf("%w: unknown profile %q", ErrInvalidConfig, c.Profile)
	}
	if c.Render.DisplayListLength == 0 {
		c.Render.DisplayListLength = sizes.displayList
	}
	if c.Cache.EntryCount == 0 {
		c.Cache.EntryCount = sizes.entries
	}
	return nil
}

// Validate rejects settings the viewer cannot run with.
func (c *Config) Validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Graphics.Width <= 0 || c.Graphics.Height <= 0, "window size must be positive"},
		{c.Graphics.FOV <= 0 || c.Graphics.FOV >= 180, "fov must be between 0 and 180 degrees"},
		{c.Graphics.Near <= 0 || c.Graphics.Far <= c.Graphics.Near, "near must be positive and below far"},
		{c.Cache.EntryCount <= 0, "cache entry_count must be positive"},
		{c.Cache.MaxRequestsPerFrame <= 0, "cache max_requests_per_frame must be positive"},
		{c.Cache.QueueDepth <= 0, "cache queue_depth must be positive"},
		{c.Render.DisplayListLength <= 0, "render display_list_length must be positive"},
		{c.Feedback.MinBias > c.Feedback.MaxBias, "feedback min_bias is above max_bias"},
		{c.Feedback.SpareFraction < 0 || c.Feedback.SpareFraction > 1, "feedback spare_fraction must be within [0, 1]"},
		{c.Data.PackPath == "", "data pack_path is empty"},
	}

	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, check.msg)
		}
	}
	return nil
}
