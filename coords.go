package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ParseLatLng extracts latitude and longitude from a timeline coordinate
// string. Both export dialects are accepted: "37.422°, -122.084°" and
// "geo:37.422,-122.084". Parts after the second comma are ignored.
func ParseLatLng(s string) (lat, lon float64, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "geo:")
	s = strings.ReplaceAll(s, "°", "")
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("invalid LatLng format: %q", s)
	}

	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}

	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}

	return lat, lon, nil
}

// latLngOrNil is the lenient form of ParseLatLng used by the parsers: a
// malformed coordinate yields nil for both values.
func latLngOrNil(s string) (lat, lon any) {
	la, lo, err := ParseLatLng(s)
	if err != nil {
		return nil, nil
	}
	return la, lo
}

// meanEarthRadius is the mean radius in meters that speeds and distances
// are computed with. orb works on the equatorial radius.
const meanEarthRadius = 6371000.0

// HaversineMeters returns the great-circle distance between two points on a
// sphere of meanEarthRadius.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2}) * meanEarthRadius / orb.EarthRadius
}

// parseKMLCoord parses one KML tuple, "lon,lat[,alt]" or the whitespace
// separated gx:coord form "lon lat [alt]".
func parseKMLCoord(s string) (lat, lon float64, ele *float64, err error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) < 2 {
		return 0, 0, nil, fmt.Errorf("invalid coordinate tuple: %q", s)
	}
	lon, err = strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid longitude: %w", err)
	}
	lat, err = strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("invalid latitude: %w", err)
	}
	if len(fields) > 2 {
		if v, perr := strconv.ParseFloat(fields[2], 64); perr == nil {
			ele = &v
		}
	}
	return lat, lon, ele, nil
}
