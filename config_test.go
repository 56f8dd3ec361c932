package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "timeline_output.csv", cfg.OutputFile)
	assert.Equal(t, "testuser", cfg.DefaultUser)
	assert.Equal(t, "Asia/Tokyo", cfg.InputTimezone)
	assert.Equal(t, "UTC", cfg.OutputTimezone)
	assert.False(t, cfg.Debug)
	assert.Equal(t, SpeedThresholds{WalkingMax: 4, HikingMax: 6, RunningMax: 15, CyclingMax: 40, DrivingMin: 40}, cfg.Speed)
	assert.Equal(t, 100.0, cfg.Elevation.HikingMinGain)
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "universal-location-parser", "config.yaml"), DefaultConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/tmp/home")
	assert.Equal(t, filepath.Join("/tmp/home", ".config", "universal-location-parser", "config.yaml"), DefaultConfigPath())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
data_dir: /srv/exports
output_timezone: Asia/Tokyo
debug: true
speed_thresholds:
  walking_max: 5
elevation_thresholds:
  hiking_min_gain: 250
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/exports", cfg.DataDir)
	assert.Equal(t, "Asia/Tokyo", cfg.OutputTimezone)
	assert.Equal(t, "Asia/Tokyo", cfg.InputTimezone, "unset keys keep defaults")
	assert.Equal(t, "timeline_output.csv", cfg.OutputFile)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 5.0, cfg.Speed.WalkingMax)
	assert.Equal(t, 15.0, cfg.Speed.RunningMax)
	assert.Equal(t, 250.0, cfg.Elevation.HikingMinGain)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "data_dir: [unterminated\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestMergeConfig(t *testing.T) {
	base := DefaultConfig()
	base.Debug = true

	got := mergeConfig(base, Config{DefaultUser: "alice", Speed: SpeedThresholds{CyclingMax: 35}})
	assert.Equal(t, "alice", got.DefaultUser)
	assert.Equal(t, "data", got.DataDir)
	assert.True(t, got.Debug, "an unset overlay cannot turn debug off")
	assert.Equal(t, 35.0, got.Speed.CyclingMax)
	assert.Equal(t, 40.0, got.Speed.DrivingMin)
}

func TestConfigOptions(t *testing.T) {
	opts, err := DefaultConfig().Options()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", opts.InputLoc.String())
	assert.Equal(t, time.UTC, opts.OutputLoc)
	assert.Equal(t, "testuser", opts.DefaultUser)
	assert.Equal(t, 4.0, opts.Thresholds.Speed.WalkingMax)

	cfg := DefaultConfig()
	cfg.InputTimezone = "Mars/Olympus_Mons"
	_, err = cfg.Options()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_timezone")

	cfg = DefaultConfig()
	cfg.OutputTimezone = "Nowhere/Special"
	_, err = cfg.Options()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output_timezone")
}
