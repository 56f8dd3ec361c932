package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
)

// Count is one entry of a frequency table.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// GPXStats aggregates rows produced by GPX and KML track parsing.
type GPXStats struct {
	Records      int      `json:"records"`
	DataSources  []Count  `json:"data_sources"`
	Tracks       int      `json:"tracks"`
	MinElevation *float64 `json:"min_elevation,omitempty"`
	MaxElevation *float64 `json:"max_elevation,omitempty"`
}

// Summary describes a merged conversion.
type Summary struct {
	Total           int        `json:"total"`
	Types           []Count    `json:"types"`
	Users           []Count    `json:"users"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	Located         int        `json:"located"`
	Bounds          orb.Bound  `json:"bounds"`
	Activities      []Count    `json:"activities"`
	TimelineMeters  float64    `json:"timeline_meters"`
	GPX             *GPXStats  `json:"gpx,omitempty"`
	FilesProcessed  int        `json:"files_processed"`
	FilesFailed     int        `json:"files_failed"`
	OutputFile      string     `json:"output_file,omitempty"`
	OutputSizeBytes int64      `json:"output_size_bytes,omitempty"`
}

// Summarize computes statistics over merged records. The time range spans
// every populated time field. The distance total counts each timeline
// activity segment once, from its activity_start row.
func Summarize(m Merged, results []FileResult) Summary {
	s := Summary{Total: len(m.Records)}
	types := make(map[string]int)
	users := make(map[string]int)
	activities := make(map[string]int)
	sources := make(map[string]int)
	tracks := make(map[string]bool)
	var gpx GPXStats

	for i := range m.Records {
		r := &m.Records[i]
		types[r.Type]++
		users[r.Username]++

		for _, t := range []*time.Time{r.PointTime, r.StartTime, r.EndTime} {
			if t == nil {
				continue
			}
			if s.Start == nil || t.Before(*s.Start) {
				s.Start = t
			}
			if s.End == nil || t.After(*s.End) {
				s.End = t
			}
		}

		if r.HasLocation() {
			p := orb.Point{*r.Longitude, *r.Latitude}
			if s.Located == 0 {
				s.Bounds = p.Bound()
			} else {
				s.Bounds = s.Bounds.Extend(p)
			}
			s.Located++
		}

		if r.ActivityType != nil {
			activities[*r.ActivityType]++
		}
		if r.Type == TypeActivityStart && r.ActivityDistanceMeters != nil {
			s.TimelineMeters += *r.ActivityDistanceMeters
		}

		if r.GPXDataSource != nil {
			gpx.Records++
			sources[*r.GPXDataSource]++
			if r.GPXTrackName != nil {
				tracks[*r.GPXTrackName] = true
			}
			if e := r.GPXElevation; e != nil {
				if gpx.MinElevation == nil || *e < *gpx.MinElevation {
					gpx.MinElevation = e
				}
				if gpx.MaxElevation == nil || *e > *gpx.MaxElevation {
					gpx.MaxElevation = e
				}
			}
		}
	}

	s.Types = sortedCounts(types)
	s.Users = sortedCounts(users)
	s.Activities = sortedCounts(activities)
	if gpx.Records > 0 {
		gpx.DataSources = sortedCounts(sources)
		gpx.Tracks = len(tracks)
		s.GPX = &gpx
	}

	for _, res := range results {
		s.FilesProcessed++
		if res.Err != nil {
			s.FilesFailed++
		}
	}
	return s
}

// sortedCounts orders by descending count, then key.
func sortedCounts(m map[string]int) []Count {
	counts := make([]Count, 0, len(m))
	for k, v := range m {
		counts = append(counts, Count{Key: k, Count: v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
	return counts
}

// Print writes the human-readable report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "Summary:")
	if s.Total == 0 {
		fmt.Fprintln(w, "  no records could be extracted")
		return
	}

	fmt.Fprintf(w, "  records: %s\n", humanize.Comma(int64(s.Total)))
	printCounts(w, "by type", s.Types)
	printCounts(w, "by user", s.Users)

	if s.Start != nil && s.End != nil {
		fmt.Fprintf(w, "  time range: %s - %s\n", formatCell(*s.Start), formatCell(*s.End))
	} else {
		fmt.Fprintln(w, "  time range: (none)")
	}

	if s.Located > 0 {
		fmt.Fprintf(w, "  located records: %s\n", humanize.Comma(int64(s.Located)))
		fmt.Fprintf(w, "  latitude: %.6f - %.6f\n", s.Bounds.Bottom(), s.Bounds.Top())
		fmt.Fprintf(w, "  longitude: %.6f - %.6f\n", s.Bounds.Left(), s.Bounds.Right())
	}

	printCounts(w, "by activity", s.Activities)
	if s.TimelineMeters > 0 {
		fmt.Fprintf(w, "  timeline distance: %s m (%s km)\n",
			humanize.CommafWithDigits(s.TimelineMeters, 0),
			humanize.CommafWithDigits(s.TimelineMeters/1000, 1))
	}

	if g := s.GPX; g != nil {
		fmt.Fprintf(w, "  track records: %s in %d tracks\n", humanize.Comma(int64(g.Records)), g.Tracks)
		printCounts(w, "by data source", g.DataSources)
		if g.MinElevation != nil {
			fmt.Fprintf(w, "  elevation: %s - %s m\n",
				humanize.CommafWithDigits(*g.MinElevation, 1), humanize.CommafWithDigits(*g.MaxElevation, 1))
		}
	}

	if s.FilesProcessed > 0 {
		fmt.Fprintf(w, "  files: %d processed, %d failed\n", s.FilesProcessed, s.FilesFailed)
	}
	if s.OutputFile != "" {
		fmt.Fprintf(w, "  output: %s (%s)\n", s.OutputFile, humanize.Bytes(uint64(s.OutputSizeBytes)))
	}
}

func printCounts(w io.Writer, title string, counts []Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, c := range counts {
		fmt.Fprintf(w, "    - %s: %s\n", strings.TrimSpace(c.Key), humanize.Comma(int64(c.Count)))
	}
}
