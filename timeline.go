package main

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// TimelineDialect identifies which semantic timeline export produced a file.
type TimelineDialect string

const (
	DialectAndroid TimelineDialect = "android"
	DialectIPhone  TimelineDialect = "iphone"
)

// looseString decodes a JSON string as is and a JSON number as its literal
// text. null, booleans, objects and arrays decode as empty, so one oddly
// typed field cannot reject a whole export.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	*s = ""
	v := gjson.ParseBytes(b)
	switch v.Type {
	case gjson.String:
		*s = looseString(v.Str)
	case gjson.Number:
		*s = looseString(v.Raw)
	}
	return nil
}

// AndroidTimeline is the root of the on-device (Android) timeline export.
type AndroidTimeline struct {
	SemanticSegments []AndroidSegment `json:"semanticSegments"`
}

// AndroidSegment is one bounded time interval of an Android export.
type AndroidSegment struct {
	StartTime    looseString `json:"startTime"`
	EndTime      looseString `json:"endTime"`
	TimelinePath []struct {
		Point looseString `json:"point"` // "35.681°, 139.767°"
		Time  looseString `json:"time"`
	} `json:"timelinePath"`
	Visit *struct {
		Probability  any `json:"probability"`
		TopCandidate struct {
			PlaceID       looseString `json:"placeId"`
			SemanticType  looseString `json:"semanticType"`
			PlaceLocation struct {
				LatLng looseString `json:"latLng"`
			} `json:"placeLocation"`
		} `json:"topCandidate"`
	} `json:"visit"`
	Activity *struct {
		Start          *androidLatLng `json:"start"`
		End            *androidLatLng `json:"end"`
		DistanceMeters any            `json:"distanceMeters"`
		TopCandidate   struct {
			Type        looseString `json:"type"`
			Probability any         `json:"probability"`
		} `json:"topCandidate"`
	} `json:"activity"`
}

// androidLatLng is an activity endpoint. LatLng is nil when the key is
// absent and holds the raw value, possibly null, when present.
type androidLatLng struct {
	LatLng json.RawMessage `json:"latLng"`
}

// IPhoneSegment is one entry of the iOS timeline export, which is a bare
// JSON array of segments.
type IPhoneSegment struct {
	StartTime looseString `json:"startTime"`
	EndTime   looseString `json:"endTime"`
	Visit     *struct {
		Probability  any `json:"probability"`
		TopCandidate struct {
			PlaceID       looseString `json:"placeID"`
			SemanticType  looseString `json:"semanticType"`
			PlaceLocation looseString `json:"placeLocation"` // "geo:35.681,139.767"
		} `json:"topCandidate"`
	} `json:"visit"`
	Activity *struct {
		Start          looseString `json:"start"`
		End            looseString `json:"end"`
		DistanceMeters any         `json:"distanceMeters"`
		TopCandidate   struct {
			Type        looseString `json:"type"`
			Probability any         `json:"probability"`
		} `json:"topCandidate"`
	} `json:"activity"`
}

// DetectTimelineDialect inspects the document shape without decoding it:
// an array whose first element has startTime is the iPhone export, an object
// with semanticSegments is the Android export.
func DetectTimelineDialect(data []byte) (TimelineDialect, error) {
	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray() && root.Get("0.startTime").Exists():
		return DialectIPhone, nil
	case root.IsObject() && root.Get("semanticSegments").Exists():
		return DialectAndroid, nil
	}
	return "", ErrUnrecognizedFormat
}

// ParseTimeline decodes a semantic timeline export of either dialect.
func ParseTimeline(data []byte, username string) ([]Draft, error) {
	dialect, err := DetectTimelineDialect(data)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectAndroid:
		var timeline AndroidTimeline
		if err := json.Unmarshal(data, &timeline); err != nil {
			return nil, fmt.Errorf("failed to parse timeline JSON: %w", err)
		}
		return extractAndroid(timeline, username), nil
	default:
		var segments []IPhoneSegment
		if err := json.Unmarshal(data, &segments); err != nil {
			return nil, fmt.Errorf("failed to parse timeline JSON: %w", err)
		}
		return extractIPhone(segments, username), nil
	}
}

func extractAndroid(timeline AndroidTimeline, username string) []Draft {
	var drafts []Draft

	for _, seg := range timeline.SemanticSegments {
		start, end := string(seg.StartTime), string(seg.EndTime)

		for _, path := range seg.TimelinePath {
			lat, lon := latLngOrNil(string(path.Point))
			drafts = append(drafts, Draft{
				Type:      TypeTimelinePath,
				StartTime: start,
				EndTime:   end,
				PointTime: string(path.Time),
				Latitude:  lat,
				Longitude: lon,
				Username:  username,
			})
		}

		if v := seg.Visit; v != nil {
			lat, lon := latLngOrNil(string(v.TopCandidate.PlaceLocation.LatLng))
			drafts = append(drafts, Draft{
				Type:              TypeVisit,
				StartTime:         start,
				EndTime:           end,
				Latitude:          lat,
				Longitude:         lon,
				VisitProbability:  v.Probability,
				VisitPlaceID:      string(v.TopCandidate.PlaceID),
				VisitSemanticType: string(v.TopCandidate.SemanticType),
				Username:          username,
			})
		}

		if a := seg.Activity; a != nil {
			ends := []struct {
				typ string
				pos *androidLatLng
			}{
				{TypeActivityStart, a.Start},
				{TypeActivityEnd, a.End},
			}
			for _, e := range ends {
				if e.pos == nil || e.pos.LatLng == nil {
					continue
				}
				var raw looseString
				_ = raw.UnmarshalJSON(e.pos.LatLng)
				lat, lon := latLngOrNil(string(raw))
				drafts = append(drafts, Draft{
					Type:                   e.typ,
					StartTime:              start,
					EndTime:                end,
					Latitude:               lat,
					Longitude:              lon,
					ActivityDistanceMeters: a.DistanceMeters,
					ActivityType:           string(a.TopCandidate.Type),
					ActivityProbability:    a.TopCandidate.Probability,
					Username:               username,
				})
			}
		}
	}

	return drafts
}

func extractIPhone(segments []IPhoneSegment, username string) []Draft {
	var drafts []Draft

	for _, seg := range segments {
		start, end := string(seg.StartTime), string(seg.EndTime)

		if v := seg.Visit; v != nil {
			lat, lon := latLngOrNil(string(v.TopCandidate.PlaceLocation))
			drafts = append(drafts, Draft{
				Type:              TypeVisit,
				StartTime:         start,
				EndTime:           end,
				Latitude:          lat,
				Longitude:         lon,
				VisitProbability:  v.Probability,
				VisitPlaceID:      string(v.TopCandidate.PlaceID),
				VisitSemanticType: string(v.TopCandidate.SemanticType),
				Username:          username,
			})
		}

		if a := seg.Activity; a != nil {
			ends := []struct {
				typ string
				geo looseString
			}{
				{TypeActivityStart, a.Start},
				{TypeActivityEnd, a.End},
			}
			for _, e := range ends {
				// iPhone exports omit the endpoint record entirely when the
				// coordinate is unusable.
				lat, lon, err := ParseLatLng(string(e.geo))
				if err != nil {
					continue
				}
				drafts = append(drafts, Draft{
					Type:                   e.typ,
					StartTime:              start,
					EndTime:                end,
					Latitude:               lat,
					Longitude:              lon,
					ActivityDistanceMeters: a.DistanceMeters,
					ActivityType:           string(a.TopCandidate.Type),
					ActivityProbability:    a.TopCandidate.Probability,
					Username:               username,
				})
			}
		}
	}

	return drafts
}
