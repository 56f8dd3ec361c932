package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	walking := "walking"
	cycling := "cycling"
	gpx := "yamap"
	track := "Ridge"
	records := []Record{
		{Type: TypeTimelinePath, Username: "alice", PointTime: at(1), Latitude: ptr(35.0), Longitude: ptr(139.0)},
		{Type: TypeActivityStart, Username: "alice", StartTime: at(2), EndTime: at(3), Latitude: ptr(35.5), Longitude: ptr(139.5),
			ActivityType: &walking, ActivityDistanceMeters: ptr(1500.0)},
		{Type: TypeActivityEnd, Username: "alice", StartTime: at(2), EndTime: at(3), Latitude: ptr(35.6), Longitude: ptr(139.6),
			ActivityType: &walking, ActivityDistanceMeters: ptr(1500.0)},
		{Type: TypeGPXTrackpoint, Username: "bob", PointTime: at(0), Latitude: ptr(36.0), Longitude: ptr(138.0),
			ActivityType: &cycling, GPXDataSource: &gpx, GPXTrackName: &track, GPXElevation: ptr(120.0)},
		{Type: TypeGPXTrackpoint, Username: "bob", PointTime: at(5), Latitude: ptr(36.1), Longitude: ptr(138.1),
			ActivityType: &cycling, GPXDataSource: &gpx, GPXTrackName: &track, GPXElevation: ptr(80.0)},
		{Type: TypeVisit, Username: "bob"},
	}
	results := []FileResult{
		{Path: "alice.json", Records: 3},
		{Path: "bob.gpx", Records: 2},
		{Path: "broken.kml", Err: errors.New("failed to parse KML")},
	}

	s := Summarize(Merged{Records: records}, results)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, []Count{{Key: "alice", Count: 3}, {Key: "bob", Count: 3}}, s.Users)
	assert.Equal(t, []Count{{Key: TypeGPXTrackpoint, Count: 2}, {Key: TypeActivityEnd, Count: 1},
		{Key: TypeActivityStart, Count: 1}, {Key: TypeTimelinePath, Count: 1}, {Key: TypeVisit, Count: 1}}, s.Types)
	assert.Equal(t, []Count{{Key: "cycling", Count: 2}, {Key: "walking", Count: 2}}, s.Activities)

	require.NotNil(t, s.Start)
	require.NotNil(t, s.End)
	assert.True(t, at(0).Equal(*s.Start))
	assert.True(t, at(5).Equal(*s.End))

	assert.Equal(t, 5, s.Located)
	assert.Equal(t, orb.Bound{Min: orb.Point{138.0, 35.0}, Max: orb.Point{139.6, 36.1}}, s.Bounds)
	assert.Equal(t, 1500.0, s.TimelineMeters, "only activity_start rows count toward distance")

	require.NotNil(t, s.GPX)
	assert.Equal(t, 2, s.GPX.Records)
	assert.Equal(t, 1, s.GPX.Tracks)
	assert.Equal(t, []Count{{Key: "yamap", Count: 2}}, s.GPX.DataSources)
	assert.Equal(t, ptr(80.0), s.GPX.MinElevation)
	assert.Equal(t, ptr(120.0), s.GPX.MaxElevation)

	assert.Equal(t, 3, s.FilesProcessed)
	assert.Equal(t, 1, s.FilesFailed)
}

func TestSummarizeWithoutTracks(t *testing.T) {
	s := Summarize(Merged{Records: []Record{{Type: TypeVisit, Username: "alice"}}}, nil)
	assert.Nil(t, s.GPX)
	assert.Nil(t, s.Start)
	assert.Zero(t, s.Located)
	assert.Zero(t, s.FilesProcessed)
}

func TestSummaryPrint(t *testing.T) {
	var buf bytes.Buffer
	Summary{}.Print(&buf)
	assert.Equal(t, "Summary:\n  no records could be extracted\n", buf.String())

	buf.Reset()
	s := Summarize(Merged{Records: archiveRecords()}, []FileResult{{Path: "a.json", Records: 4}})
	s.OutputFile = "out.csv"
	s.OutputSizeBytes = 2048
	s.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "  records: 4\n")
	assert.Contains(t, out, "    - alice: 2\n")
	assert.Contains(t, out, "  time range: 2024-01-01 01:00:00 - 2024-01-01 04:00:00\n")
	assert.Contains(t, out, "  located records: 4\n")
	assert.Contains(t, out, "  latitude: 35.000000 - 40.000000\n")
	assert.Contains(t, out, "  longitude: -74.000000 - 139.500000\n")
	assert.Contains(t, out, "  files: 1 processed, 0 failed\n")
	assert.Contains(t, out, "  output: out.csv (2.0 kB)\n")
	assert.NotContains(t, out, "track records")
}
