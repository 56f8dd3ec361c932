package main

import "time"

// Record types emitted by the parsers.
const (
	TypeTimelinePath  = "timelinePath"
	TypeVisit         = "visit"
	TypeActivityStart = "activity_start"
	TypeActivityEnd   = "activity_end"
	TypeGPXTrackpoint = "gpx_trackpoint"
	TypeGPXWaypoint   = "gpx_waypoint"
	TypeKMLGxTrack    = "kml_gx_track"
	TypeKMLPoint      = "kml_point"
	TypeKMLLineString = "kml_linestring"
)

// Record is one row of the canonical output schema. Every field except Type
// and Username is optional; nil means the source had no usable value.
//
// Times are instants in the configured output zone. The zone itself is not
// part of the schema and is dropped on export.
type Record struct {
	Type      string     `json:"type"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	PointTime *time.Time `json:"point_time,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	VisitProbability  *float64 `json:"visit_probability,omitempty"`
	VisitPlaceID      *string  `json:"visit_placeId,omitempty"`
	VisitSemanticType *string  `json:"visit_semanticType,omitempty"`

	// GPX and KML tracks store elevation here.
	ActivityDistanceMeters *float64 `json:"activity_distanceMeters,omitempty"`
	ActivityType           *string  `json:"activity_type,omitempty"`
	ActivityProbability    *float64 `json:"activity_probability,omitempty"`

	Username string `json:"username"`

	GPXDataSource    *string  `json:"_gpx_data_source,omitempty"`
	GPXTrackName     *string  `json:"_gpx_track_name,omitempty"`
	GPXElevation     *float64 `json:"_gpx_elevation,omitempty"`
	GPXSpeed         *float64 `json:"_gpx_speed,omitempty"`
	GPXPointSequence *float64 `json:"_gpx_point_sequence,omitempty"`
	GPXDescription   *string  `json:"_gpx_description,omitempty"`
}

// Draft is a record as produced by a parser, before normalization.
// Time fields hold the source text verbatim. Numeric fields hold whatever the
// source decoded to (nil, float64, int, string or json.Number) so that all
// coercion happens in one place.
type Draft struct {
	Type      string
	StartTime string
	EndTime   string
	PointTime string

	Latitude  any
	Longitude any

	VisitProbability  any
	VisitPlaceID      string
	VisitSemanticType string

	ActivityDistanceMeters any
	ActivityType           string
	ActivityProbability    any

	Username string

	GPXDataSource    string
	GPXTrackName     string
	GPXElevation     any
	GPXSpeed         any
	GPXPointSequence any
	GPXDescription   string
}

// Column names of the canonical schema.
const (
	ColType                   = "type"
	ColStartTime              = "start_time"
	ColEndTime                = "end_time"
	ColPointTime              = "point_time"
	ColLatitude               = "latitude"
	ColLongitude              = "longitude"
	ColVisitProbability       = "visit_probability"
	ColVisitPlaceID           = "visit_placeId"
	ColVisitSemanticType      = "visit_semanticType"
	ColActivityDistanceMeters = "activity_distanceMeters"
	ColActivityType           = "activity_type"
	ColActivityProbability    = "activity_probability"
	ColUsername               = "username"
	ColGPXDataSource          = "_gpx_data_source"
	ColGPXTrackName           = "_gpx_track_name"
	ColGPXElevation           = "_gpx_elevation"
	ColGPXSpeed               = "_gpx_speed"
	ColGPXPointSequence       = "_gpx_point_sequence"
	ColGPXDescription         = "_gpx_description"
)

// column binds a schema column to its field. value returns nil for an unset
// field and the dereferenced value (string, float64 or time.Time) otherwise.
type column struct {
	name  string
	value func(r *Record) any
}

// columns is the declared output order.
var columns = []column{
	{ColType, func(r *Record) any { return r.Type }},
	{ColStartTime, func(r *Record) any { return optTime(r.StartTime) }},
	{ColEndTime, func(r *Record) any { return optTime(r.EndTime) }},
	{ColPointTime, func(r *Record) any { return optTime(r.PointTime) }},
	{ColLatitude, func(r *Record) any { return optFloat(r.Latitude) }},
	{ColLongitude, func(r *Record) any { return optFloat(r.Longitude) }},
	{ColVisitProbability, func(r *Record) any { return optFloat(r.VisitProbability) }},
	{ColVisitPlaceID, func(r *Record) any { return optString(r.VisitPlaceID) }},
	{ColVisitSemanticType, func(r *Record) any { return optString(r.VisitSemanticType) }},
	{ColActivityDistanceMeters, func(r *Record) any { return optFloat(r.ActivityDistanceMeters) }},
	{ColActivityType, func(r *Record) any { return optString(r.ActivityType) }},
	{ColActivityProbability, func(r *Record) any { return optFloat(r.ActivityProbability) }},
	{ColUsername, func(r *Record) any { return r.Username }},
	{ColGPXDataSource, func(r *Record) any { return optString(r.GPXDataSource) }},
	{ColGPXTrackName, func(r *Record) any { return optString(r.GPXTrackName) }},
	{ColGPXElevation, func(r *Record) any { return optFloat(r.GPXElevation) }},
	{ColGPXSpeed, func(r *Record) any { return optFloat(r.GPXSpeed) }},
	{ColGPXPointSequence, func(r *Record) any { return optFloat(r.GPXPointSequence) }},
	{ColGPXDescription, func(r *Record) any { return optString(r.GPXDescription) }},
}

// AllColumns returns every column name in declared order.
func AllColumns() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// Value returns the value of the named column, or nil if the column is unset
// or unknown.
func (r *Record) Value(name string) any {
	for _, c := range columns {
		if c.name == name {
			return c.value(r)
		}
	}
	return nil
}

// SortTime returns the time used to order records: point_time, else
// start_time, else end_time.
func (r *Record) SortTime() (time.Time, bool) {
	switch {
	case r.PointTime != nil:
		return *r.PointTime, true
	case r.StartTime != nil:
		return *r.StartTime, true
	case r.EndTime != nil:
		return *r.EndTime, true
	}
	return time.Time{}, false
}

// HasLocation reports whether both coordinates are set.
func (r *Record) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func optFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
