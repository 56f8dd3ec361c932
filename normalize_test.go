package main

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOptions returns the built-in options: input in Asia/Tokyo, output in UTC.
func testOptions(t *testing.T) Options {
	t.Helper()
	opts, err := DefaultConfig().Options()
	require.NoError(t, err)
	return opts
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		zoned   bool
		wantErr bool
	}{
		{input: "2024-01-01T09:00:00+09:00", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), zoned: true},
		{input: "2024-01-01T00:00:00Z", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), zoned: true},
		{input: "2024-01-01T09:00:00.500+09:00", want: time.Date(2024, 1, 1, 0, 0, 0, 500e6, time.UTC), zoned: true},
		{input: "2024-01-01 09:00:00+09:00", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), zoned: true},
		{input: "2024-01-01T09:00:00+0900", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), zoned: true},
		{input: "2024-01-01 09:00:00", want: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{input: "2024-01-01T09:00:00", want: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{input: "2024-01-01T09:00:00.250", want: time.Date(2024, 1, 1, 9, 0, 0, 250e6, time.UTC)},
		{input: "2024/01/01 09:00:00", want: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{input: "2024-01-01", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{input: "", wantErr: true},
		{input: "yesterday", wantErr: true},
		{input: "2024-13-01T00:00:00Z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, zoned, err := parseTimestamp(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			assert.Equal(t, tt.zoned, zoned)
		})
	}
}

func TestNormalizerTime(t *testing.T) {
	n := NewNormalizer(testOptions(t))
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	naive := n.Time("2024-01-01 09:00:00")
	zoned := n.Time("2024-01-01T09:00:00+09:00")
	utc := n.Time("2024-01-01T00:00:00Z")

	for _, got := range []*time.Time{naive, zoned, utc} {
		require.NotNil(t, got)
		assert.True(t, want.Equal(*got))
		assert.Equal(t, time.UTC, got.Location())
	}

	assert.Nil(t, n.Time(""))
	assert.Nil(t, n.Time("not a time"))
}

func TestNormalizerTimeIdempotent(t *testing.T) {
	// Output rendered in UTC and read back with UTC as the input zone must
	// give the same instant.
	first := NewNormalizer(testOptions(t)).Time("2024-07-15T18:30:45.123+09:00")
	require.NotNil(t, first)

	utc := Normalizer{In: time.UTC, Out: time.UTC}
	second := utc.Time(formatCell(*first))
	require.NotNil(t, second)
	assert.True(t, first.Equal(*second))
}

func TestNormalizerTimeOutputZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	n := Normalizer{In: time.UTC, Out: tokyo}
	got := n.Time("2024-01-01 00:00:00")
	require.NotNil(t, got)
	assert.Equal(t, "2024-01-01 09:00:00", formatCell(*got))
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  *float64
	}{
		{name: "nil", input: nil, want: nil},
		{name: "float64", input: 1.5, want: ptr(1.5)},
		{name: "float32", input: float32(0.5), want: ptr(0.5)},
		{name: "int", input: 3, want: ptr(3.0)},
		{name: "int64", input: int64(7), want: ptr(7.0)},
		{name: "numeric string", input: " 2.25 ", want: ptr(2.25)},
		{name: "empty string", input: "", want: nil},
		{name: "blank string", input: "   ", want: nil},
		{name: "word", input: "high", want: nil},
		{name: "json number", input: json.Number("4.5"), want: ptr(4.5)},
		{name: "bad json number", input: json.Number("x"), want: nil},
		{name: "NaN", input: math.NaN(), want: nil},
		{name: "NaN string", input: "NaN", want: nil},
		{name: "true", input: true, want: ptr(1.0)},
		{name: "false", input: false, want: ptr(0.0)},
		{name: "object", input: map[string]any{"a": 1}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toFloat(tt.input))
		})
	}
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(testOptions(t))

	records := n.Normalize([]Draft{
		{
			Type:              TypeVisit,
			StartTime:         "2024-01-01T09:00:00+09:00",
			EndTime:           "2024-01-01T10:00:00+09:00",
			Latitude:          35.0,
			Longitude:         "139.0",
			VisitProbability:  "0.9",
			VisitPlaceID:      "place-1",
			VisitSemanticType: "HOME",
			Username:          "alice",
		},
		{
			Type:      TypeTimelinePath,
			PointTime: "broken",
			Latitude:  35.0,
			Longitude: nil,
			Username:  "alice",
		},
	})
	require.Len(t, records, 2)

	visit := records[0]
	assert.Equal(t, TypeVisit, visit.Type)
	assert.Equal(t, "alice", visit.Username)
	require.NotNil(t, visit.StartTime)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*visit.StartTime))
	require.NotNil(t, visit.EndTime)
	assert.Nil(t, visit.PointTime)
	assert.Equal(t, ptr(35.0), visit.Latitude)
	assert.Equal(t, ptr(139.0), visit.Longitude)
	assert.Equal(t, ptr(0.9), visit.VisitProbability)
	assert.Equal(t, ptr("place-1"), visit.VisitPlaceID)
	assert.Nil(t, visit.ActivityType)
	assert.Nil(t, visit.GPXDataSource)

	path := records[1]
	assert.Nil(t, path.PointTime)
	assert.Nil(t, path.Latitude, "a lone latitude is dropped")
	assert.Nil(t, path.Longitude)
	assert.False(t, path.HasLocation())
}

func TestNormalizeEmpty(t *testing.T) {
	n := NewNormalizer(testOptions(t))
	records := n.Normalize(nil)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
