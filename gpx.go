package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxSpeedKmh caps per-point speeds; faster readings are GPS jitter.
const maxSpeedKmh = 200.0

// Element names are matched on their local part only, so GPX 1.0, 1.1 and
// unqualified documents all decode.
type gpxDocument struct {
	XMLName   xml.Name
	Tracks    []gpxTrack    `xml:"trk"`
	Waypoints []gpxWaypoint `xml:"wpt"`
}

type gpxTrack struct {
	Name     *string `xml:"name"`
	Segments []struct {
		Points []gpxPoint `xml:"trkpt"`
	} `xml:"trkseg"`
}

type gpxPoint struct {
	Lat       string  `xml:"lat,attr"`
	Lon       string  `xml:"lon,attr"`
	Elevation *string `xml:"ele"`
	Time      *string `xml:"time"`
}

type gpxWaypoint struct {
	gpxPoint
	Name        *string `xml:"name"`
	Description *string `xml:"desc"`
}

// Trackpoint is one sample of a track while the track is being processed.
// It never leaves the parser.
type Trackpoint struct {
	Latitude   float64
	Longitude  float64
	Elevation  *float64
	PointTime  string // source text, empty when missing or unparsable
	Time       time.Time
	HasTime    bool
	PointIndex int
	Speed      float64 // km/h
}

// ParseGPX decodes a GPX document into one gpx_trackpoint draft per valid
// track point and one gpx_waypoint draft per valid waypoint.
func ParseGPX(data []byte, filename, username string, th Thresholds) ([]Draft, error) {
	var doc gpxDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}
	if doc.XMLName.Local != "gpx" {
		return nil, fmt.Errorf("root element <%s>: %w", doc.XMLName.Local, ErrUnrecognizedFormat)
	}

	source := detectDataSource(filename)
	var drafts []Draft

	for i, trk := range doc.Tracks {
		name := fmt.Sprintf("Track %d", i+1)
		if trk.Name != nil {
			name = strings.TrimSpace(*trk.Name)
		}

		var points []Trackpoint
		for _, seg := range trk.Segments {
			for j, p := range seg.Points {
				tp, err := p.trackpoint(j)
				if err != nil {
					continue
				}
				points = append(points, tp)
			}
		}

		drafts = append(drafts, trackDrafts(TypeGPXTrackpoint, source, filename, name, username, points, th)...)
	}

	for i, wpt := range doc.Waypoints {
		d, err := wpt.draft(i, source, username)
		if err != nil {
			continue
		}
		drafts = append(drafts, d)
	}

	return drafts, nil
}

func (p gpxPoint) trackpoint(index int) (Trackpoint, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	if err != nil {
		return Trackpoint{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if err != nil {
		return Trackpoint{}, fmt.Errorf("invalid longitude: %w", err)
	}

	tp := Trackpoint{
		Latitude:   lat,
		Longitude:  lon,
		Elevation:  parseOptFloat(p.Elevation),
		PointIndex: index,
	}
	if p.Time != nil {
		if t, _, err := parseTimestamp(*p.Time); err == nil {
			tp.PointTime = strings.TrimSpace(*p.Time)
			tp.Time = t
			tp.HasTime = true
		}
	}
	return tp, nil
}

func (w gpxWaypoint) draft(index int, source, username string) (Draft, error) {
	tp, err := w.trackpoint(index)
	if err != nil {
		return Draft{}, err
	}

	name := fmt.Sprintf("Waypoint %d", index+1)
	if w.Name != nil {
		name = strings.TrimSpace(*w.Name)
	}
	var desc string
	if w.Description != nil {
		desc = strings.TrimSpace(*w.Description)
	}
	ele := floatOrNil(tp.Elevation)

	return Draft{
		Type:                   TypeGPXWaypoint,
		StartTime:              tp.PointTime,
		EndTime:                tp.PointTime,
		PointTime:              tp.PointTime,
		Latitude:               tp.Latitude,
		Longitude:              tp.Longitude,
		VisitPlaceID:           name,
		VisitSemanticType:      "Waypoint",
		ActivityDistanceMeters: ele,
		ActivityType:           "waypoint",
		Username:               username,
		GPXDataSource:          source,
		GPXTrackName:           name,
		GPXElevation:           ele,
		GPXPointSequence:       index,
		GPXDescription:         desc,
	}, nil
}

// trackDrafts computes speeds, classifies the track and emits one draft per
// point. GPX tracks and KML gx:Tracks share this path.
func trackDrafts(typ, source, filename, name, username string, points []Trackpoint, th Thresholds) []Draft {
	if len(points) == 0 {
		return nil
	}

	computeSpeeds(points)
	start, end := timeBounds(points)
	activity := Classify(filename, name, points, th)
	semantic := SemanticType(activity, name)

	drafts := make([]Draft, 0, len(points))
	for _, tp := range points {
		ele := floatOrNil(tp.Elevation)
		var prob any
		if tp.Speed != 0 {
			prob = tp.Speed / 50
		}
		drafts = append(drafts, Draft{
			Type:                   typ,
			StartTime:              start,
			EndTime:                end,
			PointTime:              tp.PointTime,
			Latitude:               tp.Latitude,
			Longitude:              tp.Longitude,
			VisitPlaceID:           name,
			VisitSemanticType:      semantic,
			ActivityDistanceMeters: ele,
			ActivityType:           activity,
			ActivityProbability:    prob,
			Username:               username,
			GPXDataSource:          source,
			GPXTrackName:           name,
			GPXElevation:           ele,
			GPXSpeed:               tp.Speed,
			GPXPointSequence:       tp.PointIndex,
		})
	}
	return drafts
}

// computeSpeeds fills Speed for every point from its predecessor. The first
// point, and any point where either time is missing or not increasing, gets 0.
func computeSpeeds(points []Trackpoint) {
	for i := range points {
		points[i].Speed = 0
		if i == 0 {
			continue
		}
		prev, cur := points[i-1], points[i]
		if !prev.HasTime || !cur.HasTime {
			continue
		}
		dt := cur.Time.Sub(prev.Time).Seconds()
		if dt <= 0 {
			continue
		}
		d := HaversineMeters(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
		points[i].Speed = min(d/dt*3.6, maxSpeedKmh)
	}
}

// timeBounds returns the source text of the earliest and latest valid point
// times, or empty strings if no point is timed.
func timeBounds(points []Trackpoint) (start, end string) {
	var lo, hi time.Time
	found := false
	for _, tp := range points {
		if !tp.HasTime {
			continue
		}
		if !found || tp.Time.Before(lo) {
			lo, start = tp.Time, tp.PointTime
		}
		if !found || tp.Time.After(hi) {
			hi, end = tp.Time, tp.PointTime
		}
		found = true
	}
	return start, end
}

func parseOptFloat(s *string) *float64 {
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
