package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/burstmerge/config.json"
	defaultParallel   = 4
	defaultLaneWidth  = 32
)

// Config holds user-editable settings for the merge pipeline.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Merge      Merge      `json:"merge"`
	Export     Export     `json:"export"`
	Watch      Watch      `json:"watch"`
}

// Processing captures execution preferences for the compute dispatcher.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	LaneWidth    int    `json:"lane_width"` // work-group sizing hint
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
	MaxSize    int    `json:"max_size"`    // Max size in MB before rotation
	MaxBackups int    `json:"max_backups"` // Number of backup files to keep
	MaxAge     int    `json:"max_age"`     // Days to keep log files
}

// Paths configures default input/output locations.
type Paths struct {
	Inbox         string `json:"inbox"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Merge tunes the per-burst merge run.
type Merge struct {
	Mode                  string `json:"mode"` // "uniform", "exposure"
	HighlightHalfWidth    int    `json:"highlight_half_width"`
	ExtrapolateHighlights bool   `json:"extrapolate_highlights"`
	DisableHotPixels      bool   `json:"disable_hot_pixels"`
}

// Export configures the rendered output written next to the merged raw.
type Export struct {
	Enabled   bool     `json:"enabled"`
	Preferred string   `json:"preferred"` // "imagemagick", "native"
	Fallbacks []string `json:"fallbacks"`
	Format    string   `json:"format"` // "tiff", "png"
	Preview   bool     `json:"preview"`
}

// Watch tunes inbox-directory burst ingestion.
type Watch struct {
	SettleSeconds int `json:"settle_seconds"` // quiet time before a drop counts as complete
	MinFrames     int `json:"min_frames"`     // smallest group enqueued as a burst
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("BURSTMERGE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			LaneWidth:    defaultLaneWidth,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
		},
		Paths: Paths{
			Inbox:         "./inbox",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "burstmerge.db"),
		},
		Merge: Merge{
			Mode:                  "uniform",
			HighlightHalfWidth:    0, // kernel default
			ExtrapolateHighlights: true,
		},
		Export: Export{
			Enabled:   true,
			Preferred: "imagemagick",
			Fallbacks: []string{"native"},
			Format:    "tiff", // 16-bit TIFF for best quality retention
			Preview:   true,
		},
		Watch: Watch{
			SettleSeconds: 3,
			MinFrames:     2,
		},
	}
}

// Validate checks the settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be at least 1, got %d", c.Processing.ParallelJobs)
	}
	if c.Processing.LaneWidth < 4 {
		return fmt.Errorf("processing.lane_width must be at least 4, got %d", c.Processing.LaneWidth)
	}
	switch c.Merge.Mode {
	case "", "uniform", "exposure":
	default:
		return fmt.Errorf("merge.mode must be uniform or exposure, got %q", c.Merge.Mode)
	}
	switch c.Export.Format {
	case "", "tiff", "png":
	default:
		return fmt.Errorf("export.format must be tiff or png, got %q", c.Export.Format)
	}
	if c.Watch.SettleSeconds < 1 {
		return fmt.Errorf("watch.settle_seconds must be at least 1, got %d", c.Watch.SettleSeconds)
	}
	if c.Watch.MinFrames < 2 {
		return fmt.Errorf("watch.min_frames must be at least 2, got %d", c.Watch.MinFrames)
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
