package config

import "flag"

var (
	flagConfig       = flag.String("config", "", "Path to config file")
	flagDebug        = flag.Bool("debug", false, "Enable debug logging")
	flagPack         = flag.String("pack", "", "Asset pack to load")
	flagLevel        = flag.String("level", "", "Level to load from the pack")
	flagWindowed     = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen   = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth        = flag.Int("width", 0, "Window width")
	flagHeight       = flag.Int("height", 0, "Window height")
	flagCacheEntries = flag.Int("cache-entries", 0, "Tile cache entry count")
	flagTelemetry    = flag.String("telemetry", "", "Listen address for the statistics websocket")
	flagExpanded     = flag.Bool("expanded", false, "Use the expanded memory profile")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagPack != "" {
		cfg.Data.PackPath = *flagPack
	}
	if *flagLevel != "" {
		cfg.Data.Level = *flagLevel
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
	if *flagCacheEntries > 0 {
		cfg.Cache.EntryCount = *flagCacheEntries
	}
	if *flagTelemetry != "" {
		cfg.Telemetry.Listen = *flagTelemetry
	}
	if *flagExpanded {
		cfg.Profile = ProfileExpanded
	}
}
