package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI runs the app against an isolated config home.
func runCLI(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(ctx, append([]string{"universal-location-parser"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func convertFixture(t *testing.T) (dataDir, output string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	writeFile(t, filepath.Join(dataDir, "alice_timeline.json"), androidTimelineJSON)
	writeFile(t, filepath.Join(dataDir, "tracks", "bob_walk.gpx"), sampleGPX)
	writeFile(t, filepath.Join(dataDir, "notes.txt"), "ignored")
	return dataDir, filepath.Join(dir, "out.csv")
}

func TestConvertCommand(t *testing.T) {
	dataDir, output := convertFixture(t)

	code, stdout, stderr := runCLI(t, context.Background(), "convert", "-d", dataDir, "-o", output)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "Found 2 files in "+dataDir)
	assert.Contains(t, stdout, "[json 1/2] alice_timeline.json: 5 records")
	assert.Contains(t, stdout, "[gpx 2/2] bob_walk.gpx: 3 records")
	assert.Contains(t, stdout, "Summary:")
	assert.Contains(t, stdout, "  records: 8\n")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 9, "header plus one line per record")
	assert.True(t, strings.HasPrefix(lines[0], "type,"))
}

func TestConvertCommandSkipsBrokenFiles(t *testing.T) {
	dataDir, output := convertFixture(t)
	writeFile(t, filepath.Join(dataDir, "zz.kml"), "<kml><Document>")
	writeFile(t, filepath.Join(dataDir, "empty.gpx"), "<gpx></gpx>")

	code, stdout, stderr := runCLI(t, context.Background(), "convert", "-d", dataDir, "-o", output)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "[gpx 2/4] empty.gpx: no records\n")
	assert.Contains(t, stdout, "[gpx 3/4] bob_walk.gpx: 3 records\n")
	assert.Contains(t, stdout, "[kml 4/4] zz.kml: skipped (failed to parse KML")
	assert.Contains(t, stdout, "  files: 4 processed, 1 failed\n")
	assert.Contains(t, stdout, "  records: 8\n")
}

func TestConvertCommandArchives(t *testing.T) {
	dataDir, output := convertFixture(t)
	dbPath := filepath.Join(t.TempDir(), "archive.db")

	code, stdout, stderr := runCLI(t, context.Background(), "convert", "-d", dataDir, "-o", output, "--db", dbPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Archived run ")
	assert.Contains(t, stdout, ": 8 imported, 0 duplicates skipped")

	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.ListImportRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "convert:"+dataDir, runs[0].Source)
}

func TestConvertCommandFromConfigFile(t *testing.T) {
	dataDir, output := convertFixture(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "data_dir: "+dataDir+"\noutput_file: "+output+"\noutput_timezone: Asia/Tokyo\n")

	code, _, stderr := runCLI(t, context.Background(), "--config", configPath, "convert")
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2024-01-01 09:05:00", "timestamps are rendered in the output zone")
}

func TestConvertCommandErrors(t *testing.T) {
	t.Run("no input files", func(t *testing.T) {
		dir := t.TempDir()
		code, _, stderr := runCLI(t, context.Background(), "convert", "-d", dir, "-o", filepath.Join(dir, "out.csv"))
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "error: no supported files found in "+dir)
	})

	t.Run("missing data dir", func(t *testing.T) {
		dir := t.TempDir()
		code, _, stderr := runCLI(t, context.Background(), "convert", "-d", filepath.Join(dir, "missing"))
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "error: ")
	})

	t.Run("invalid timezone", func(t *testing.T) {
		dataDir, output := convertFixture(t)
		code, _, stderr := runCLI(t, context.Background(), "convert", "-d", dataDir, "-o", output, "--input-tz", "Mars/Olympus")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Mars/Olympus")
		assert.NoFileExists(t, output)
	})

	t.Run("interrupted", func(t *testing.T) {
		dataDir, output := convertFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		code, _, stderr := runCLI(t, ctx, "convert", "-d", dataDir, "-o", output)
		assert.Equal(t, exitInterrupted, code)
		assert.Equal(t, "interrupted\n", stderr)
		assert.NoFileExists(t, output)
	})
}
