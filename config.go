package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration file.
type Config struct {
	DataDir        string              `yaml:"data_dir,omitempty"`
	OutputFile     string              `yaml:"output_file,omitempty"`
	DefaultUser    string              `yaml:"default_user,omitempty"`
	InputTimezone  string              `yaml:"input_timezone,omitempty"`
	OutputTimezone string              `yaml:"output_timezone,omitempty"`
	Debug          bool                `yaml:"debug,omitempty"`
	Speed          SpeedThresholds     `yaml:"speed_thresholds,omitempty"`
	Elevation      ElevationThresholds `yaml:"elevation_thresholds,omitempty"`
}

// SpeedThresholds are average-speed bounds in km/h used by the classifier.
type SpeedThresholds struct {
	WalkingMax float64 `yaml:"walking_max,omitempty"`
	HikingMax  float64 `yaml:"hiking_max,omitempty"`
	RunningMax float64 `yaml:"running_max,omitempty"`
	CyclingMax float64 `yaml:"cycling_max,omitempty"`
	DrivingMin float64 `yaml:"driving_min,omitempty"`
}

// ElevationThresholds are cumulative-gain bounds in meters.
type ElevationThresholds struct {
	HikingMinGain float64 `yaml:"hiking_min_gain,omitempty"`
}

// Thresholds is the classifier's view of the configuration.
type Thresholds struct {
	Speed     SpeedThresholds
	Elevation ElevationThresholds
}

// Options is the resolved, immutable configuration threaded through parsing
// and normalization.
type Options struct {
	DefaultUser string
	InputLoc    *time.Location
	OutputLoc   *time.Location
	Thresholds  Thresholds
	Debug       bool
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:        "data",
		OutputFile:     "timeline_output.csv",
		DefaultUser:    "testuser",
		InputTimezone:  "Asia/Tokyo",
		OutputTimezone: "UTC",
		Speed: SpeedThresholds{
			WalkingMax: 4,
			HikingMax:  6,
			RunningMax: 15,
			CyclingMax: 40,
			DrivingMin: 40,
		},
		Elevation: ElevationThresholds{
			HikingMinGain: 100,
		},
	}
}

// DefaultConfigPath returns the default config file path under $XDG_CONFIG_HOME, falling back to ~/.config
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "universal-location-parser", "config.yaml")
}

// LoadConfig loads configuration from the specified path and fills unset
// values from DefaultConfig. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return mergeConfig(cfg, file), nil
}

// mergeConfig overlays the non-zero values of overlay onto base.
func mergeConfig(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.OutputFile != "" {
		base.OutputFile = overlay.OutputFile
	}
	if overlay.DefaultUser != "" {
		base.DefaultUser = overlay.DefaultUser
	}
	if overlay.InputTimezone != "" {
		base.InputTimezone = overlay.InputTimezone
	}
	if overlay.OutputTimezone != "" {
		base.OutputTimezone = overlay.OutputTimezone
	}
	base.Debug = base.Debug || overlay.Debug

	overrideFloat(&base.Speed.WalkingMax, overlay.Speed.WalkingMax)
	overrideFloat(&base.Speed.HikingMax, overlay.Speed.HikingMax)
	overrideFloat(&base.Speed.RunningMax, overlay.Speed.RunningMax)
	overrideFloat(&base.Speed.CyclingMax, overlay.Speed.CyclingMax)
	overrideFloat(&base.Speed.DrivingMin, overlay.Speed.DrivingMin)
	overrideFloat(&base.Elevation.HikingMinGain, overlay.Elevation.HikingMinGain)
	return base
}

func overrideFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// Options resolves timezone names and returns the immutable run options.
func (c Config) Options() (Options, error) {
	in, err := time.LoadLocation(c.InputTimezone)
	if err != nil {
		return Options{}, fmt.Errorf("invalid input_timezone %q: %w", c.InputTimezone, err)
	}
	out, err := time.LoadLocation(c.OutputTimezone)
	if err != nil {
		return Options{}, fmt.Errorf("invalid output_timezone %q: %w", c.OutputTimezone, err)
	}
	return Options{
		DefaultUser: c.DefaultUser,
		InputLoc:    in,
		OutputLoc:   out,
		Thresholds: Thresholds{
			Speed:     c.Speed,
			Elevation: c.Elevation,
		},
		Debug: c.Debug,
	}, nil
}
