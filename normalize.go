package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalizer converts parser drafts into canonical records. In is the zone
// assumed for timestamps without an offset; Out is the zone records are
// expressed in.
type Normalizer struct {
	In  *time.Location
	Out *time.Location
}

// NewNormalizer returns a Normalizer for the resolved options.
func NewNormalizer(opts Options) Normalizer {
	return Normalizer{In: opts.InputLoc, Out: opts.OutputLoc}
}

// Normalize returns one record per draft. Fields that cannot be coerced
// become nil; a draft is never rejected.
func (n Normalizer) Normalize(drafts []Draft) []Record {
	records := make([]Record, 0, len(drafts))
	for i := range drafts {
		records = append(records, n.record(&drafts[i]))
	}
	return records
}

func (n Normalizer) record(d *Draft) Record {
	r := Record{
		Type:      d.Type,
		StartTime: n.Time(d.StartTime),
		EndTime:   n.Time(d.EndTime),
		PointTime: n.Time(d.PointTime),

		Latitude:  toFloat(d.Latitude),
		Longitude: toFloat(d.Longitude),

		VisitProbability:  toFloat(d.VisitProbability),
		VisitPlaceID:      toString(d.VisitPlaceID),
		VisitSemanticType: toString(d.VisitSemanticType),

		ActivityDistanceMeters: toFloat(d.ActivityDistanceMeters),
		ActivityType:           toString(d.ActivityType),
		ActivityProbability:    toFloat(d.ActivityProbability),

		Username: d.Username,

		GPXDataSource:    toString(d.GPXDataSource),
		GPXTrackName:     toString(d.GPXTrackName),
		GPXElevation:     toFloat(d.GPXElevation),
		GPXSpeed:         toFloat(d.GPXSpeed),
		GPXPointSequence: toFloat(d.GPXPointSequence),
		GPXDescription:   toString(d.GPXDescription),
	}

	// A lone coordinate is not a location.
	if r.Latitude == nil || r.Longitude == nil {
		r.Latitude, r.Longitude = nil, nil
	}
	return r
}

// Time parses s and expresses it in the output zone. Timestamps without an
// offset are read as wall clock in the input zone. Empty or unparsable text
// gives nil.
func (n Normalizer) Time(s string) *time.Time {
	t, zoned, err := parseTimestamp(s)
	if err != nil {
		return nil
	}
	if zoned {
		t = t.In(n.In)
	} else {
		t = localize(t, n.In)
	}
	t = t.In(n.Out)
	return &t
}

// toFloat coerces a decoded value to a float. nil, empty strings, values
// that do not convert and NaN all give nil.
func toFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return nil
		}
		f = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = p
	case bool:
		if x {
			f = 1
		}
	default:
		return nil
	}
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

func toString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
