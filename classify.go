package main

import (
	"path/filepath"
	"strings"
)

// Activity labels produced by Classify.
const (
	ActivityHiking  = "hiking"
	ActivityWalking = "walking"
	ActivityRunning = "running"
	ActivityCycling = "cycling"
	ActivityDriving = "driving"
	ActivityUnknown = "unknown"
)

type keywordRule struct {
	activity string
	keywords []string
}

// Checked in order against the lower-cased file name.
var filenameRules = []keywordRule{
	{ActivityHiking, []string{"yamap"}},
	{ActivityRunning, []string{"run"}},
	{ActivityCycling, []string{"bike", "cycling"}},
	{ActivityWalking, []string{"walk"}},
}

// Checked in order against the lower-cased track name.
var trackNameRules = []keywordRule{
	{ActivityHiking, []string{"山", "岳", "峰", "峠", "mountain", "peak", "summit", "登山", "ハイキング"}},
	{ActivityRunning, []string{"run", "running", "ラン", "ランニング", "ジョギング"}},
	{ActivityCycling, []string{"bike", "cycling", "サイクル", "自転車"}},
}

var mountainTokens = []string{"山", "岳", "峰", "高原", "峠"}

var semanticTypes = map[string]string{
	ActivityHiking:  "Recreation",
	ActivityWalking: "Recreation",
	ActivityRunning: "Sports",
	ActivityCycling: "Sports",
	ActivityDriving: "Transportation",
	ActivityUnknown: "Other",
}

// Classify labels a track. The file name wins over the track name, and both
// win over the speed and elevation profile of the points. Speeds must already
// be computed.
func Classify(filename, trackName string, points []Trackpoint, th Thresholds) string {
	if a, ok := matchRules(filenameRules, strings.ToLower(filepath.Base(filename))); ok {
		return a
	}
	if trackName != "" {
		if a, ok := matchRules(trackNameRules, strings.ToLower(trackName)); ok {
			return a
		}
	}
	if len(points) <= 1 {
		return ActivityUnknown
	}

	avg := averageSpeed(points)
	gain := ElevationGain(points)
	s := th.Speed
	switch {
	case avg < s.HikingMax && gain > th.Elevation.HikingMinGain:
		return ActivityHiking
	case avg < s.WalkingMax:
		return ActivityWalking
	case avg < s.RunningMax:
		return ActivityRunning
	case avg < s.CyclingMax:
		return ActivityCycling
	case avg >= s.DrivingMin:
		return ActivityDriving
	}
	return ActivityUnknown
}

// SemanticType maps an activity label to its category. Track names that
// mention a mountain feature are always "Mountain".
func SemanticType(activity, trackName string) string {
	for _, tok := range mountainTokens {
		if strings.Contains(trackName, tok) {
			return "Mountain"
		}
	}
	if t, ok := semanticTypes[activity]; ok {
		return t
	}
	return "Other"
}

// ElevationGain sums the upward deltas between consecutive known elevations.
// Points without elevation are skipped.
func ElevationGain(points []Trackpoint) float64 {
	var gain float64
	var prev *float64
	for _, tp := range points {
		if tp.Elevation == nil {
			continue
		}
		if prev != nil && *tp.Elevation > *prev {
			gain += *tp.Elevation - *prev
		}
		prev = tp.Elevation
	}
	return gain
}

// averageSpeed averages the positive point speeds; 0 if there are none.
func averageSpeed(points []Trackpoint) float64 {
	var sum float64
	var n int
	for _, tp := range points {
		if tp.Speed > 0 {
			sum += tp.Speed
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func matchRules(rules []keywordRule, s string) (string, bool) {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(s, kw) {
				return r.activity, true
			}
		}
	}
	return "", false
}

// detectDataSource tags GPX rows with the service that likely produced them.
func detectDataSource(filename string) string {
	name := strings.ToLower(filepath.Base(filename))
	switch {
	case strings.Contains(name, "yamap"):
		return "yamap"
	case strings.Contains(name, "garmin"), strings.Contains(name, "activity_"):
		return "garmin"
	}
	return "gpx"
}
