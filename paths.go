package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// PathPoint is one timed position of a daily path.
type PathPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

// SimplifyPath drops points that deviate less than tolerance degrees from
// the Douglas-Peucker line. The first and last points are always kept.
func SimplifyPath(points []PathPoint, tolerance float64) []PathPoint {
	if len(points) <= 2 {
		return points
	}

	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orb.Point{p.Lon, p.Lat}
	}
	kept := simplify.DouglasPeucker(tolerance).LineString(ls)

	// The simplified line is an ordered subset of the input.
	out := make([]PathPoint, 0, len(kept))
	j := 0
	for _, p := range points {
		if j < len(kept) && kept[j] == (orb.Point{p.Lon, p.Lat}) {
			out = append(out, p)
			j++
		}
	}
	return out
}

// ToleranceFromBBox picks a simplification tolerance of 0.1% of the smaller
// viewport side, clamped to roughly 1 m .. 100 m.
func ToleranceFromBBox(bbox BBox) float64 {
	minSpan := min(bbox.NeLat-bbox.SwLat, bbox.NeLng-bbox.SwLng)
	return min(max(minSpan*0.001, 0.00001), 0.001)
}

// Path is the located, timed records of one user on one local day.
type Path struct {
	ID         int64       `json:"id"`
	Username   string      `json:"username"`
	Date       string      `json:"date"`
	StartTS    int64       `json:"start_ts"`
	EndTS      int64       `json:"end_ts"`
	MinLat     float64     `json:"min_lat"`
	MaxLat     float64     `json:"max_lat"`
	MinLon     float64     `json:"min_lon"`
	MaxLon     float64     `json:"max_lon"`
	PointCount int         `json:"point_count"`
	Points     []PathPoint `json:"points,omitempty"`
}

// TimezoneFromCoords approximates the zone at a coordinate as one hour per
// 15 degrees of longitude.
func TimezoneFromCoords(lat, lon float64) *time.Location {
	hours := min(max(int(math.Round(lon/15)), -12), 14)
	return time.FixedZone("", hours*3600)
}

// LocalDateFromTimestamp formats the YYYY-MM-DD date a unix timestamp falls
// on at the given coordinate.
func LocalDateFromTimestamp(ts int64, lat, lon float64) string {
	return time.Unix(ts, 0).In(TimezoneFromCoords(lat, lon)).Format(time.DateOnly)
}

// pathSample is a located, timed record reduced to what a path needs.
type pathSample struct {
	Username string
	PathPoint
}

func (s pathSample) key() string {
	return s.Username + "|" + LocalDateFromTimestamp(s.Timestamp, s.Lat, s.Lon)
}

// samplesFromRecords keeps the records that have both a location and a sort
// time.
func samplesFromRecords(records []Record) []pathSample {
	var samples []pathSample
	for i := range records {
		r := &records[i]
		t, ok := r.SortTime()
		if !ok || !r.HasLocation() {
			continue
		}
		samples = append(samples, pathSample{
			Username:  r.Username,
			PathPoint: PathPoint{Lat: *r.Latitude, Lon: *r.Longitude, Timestamp: t.Unix()},
		})
	}
	return samples
}

// ComputePaths groups samples into one path per user and local day, keyed
// by "username|date". Points are time ordered.
func ComputePaths(samples []pathSample) map[string]*Path {
	paths := make(map[string]*Path)
	bounds := make(map[string]orb.Bound)

	for _, s := range samples {
		key := s.key()
		pt := orb.Point{s.Lon, s.Lat}

		p, ok := paths[key]
		if !ok {
			p = &Path{
				Username: s.Username,
				Date:     LocalDateFromTimestamp(s.Timestamp, s.Lat, s.Lon),
				StartTS:  s.Timestamp,
				EndTS:    s.Timestamp,
			}
			paths[key] = p
			bounds[key] = pt.Bound()
		}
		p.StartTS = min(p.StartTS, s.Timestamp)
		p.EndTS = max(p.EndTS, s.Timestamp)
		p.Points = append(p.Points, s.PathPoint)
		bounds[key] = bounds[key].Extend(pt)
	}

	for key, p := range paths {
		b := bounds[key]
		p.MinLat, p.MaxLat = b.Bottom(), b.Top()
		p.MinLon, p.MaxLon = b.Left(), b.Right()
		p.PointCount = len(p.Points)
		sort.SliceStable(p.Points, func(i, j int) bool {
			return p.Points[i].Timestamp < p.Points[j].Timestamp
		})
	}
	return paths
}

// CreateOrUpdatePath upserts the path for its user and date and replaces
// its stored points. path.ID is set on success.
func (db *DB) CreateOrUpdatePath(path *Path) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRow(`
		INSERT INTO paths (username, date, start_ts, end_ts, min_lat, max_lat, min_lon, max_lon, point_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, date) DO UPDATE SET
			start_ts = excluded.start_ts, end_ts = excluded.end_ts,
			min_lat = excluded.min_lat, max_lat = excluded.max_lat,
			min_lon = excluded.min_lon, max_lon = excluded.max_lon,
			point_count = excluded.point_count
		RETURNING id`,
		path.Username, path.Date, path.StartTS, path.EndTS,
		path.MinLat, path.MaxLat, path.MinLon, path.MaxLon, len(path.Points),
	).Scan(&path.ID)
	if err != nil {
		return fmt.Errorf("upsert path %s/%s: %w", path.Username, path.Date, err)
	}

	if _, err = tx.Exec(`DELETE FROM path_points WHERE path_id = ?`, path.ID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO path_points (path_id, seq, timestamp, lat, lon) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for seq, pt := range path.Points {
		if _, err = stmt.Exec(path.ID, seq, pt.Timestamp, pt.Lat, pt.Lon); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryPathsByBBox returns the paths whose bounds intersect bbox, optionally
// limited to those overlapping [start, end] in unix seconds.
func (db *DB) QueryPathsByBBox(bbox BBox, start, end *int64) ([]Path, error) {
	var where []string
	args := []any{bbox.SwLat, bbox.NeLat, bbox.SwLng, bbox.NeLng}
	where = append(where, "max_lat >= ?", "min_lat <= ?", "max_lon >= ?", "min_lon <= ?")
	if start != nil {
		where = append(where, "end_ts >= ?")
		args = append(args, *start)
	}
	if end != nil {
		where = append(where, "start_ts <= ?")
		args = append(args, *end)
	}

	rows, err := db.Query(`SELECT id, username, date, start_ts, end_ts, min_lat, max_lat, min_lon, max_lon, point_count
		FROM paths WHERE `+strings.Join(where, " AND ")+` ORDER BY start_ts, username`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []Path{}
	for rows.Next() {
		var p Path
		if err := rows.Scan(&p.ID, &p.Username, &p.Date, &p.StartTS, &p.EndTS,
			&p.MinLat, &p.MaxLat, &p.MinLon, &p.MaxLon, &p.PointCount); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetPathPoints returns the stored points of a path in sequence order.
func (db *DB) GetPathPoints(pathID int64) ([]PathPoint, error) {
	rows, err := db.Query(`SELECT timestamp, lat, lon FROM path_points WHERE path_id = ? ORDER BY seq`, pathID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []PathPoint
	for rows.Next() {
		var pt PathPoint
		if err := rows.Scan(&pt.Timestamp, &pt.Lat, &pt.Lon); err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

// QueryPathsWithPoints is QueryPathsByBBox with each path's points loaded
// and simplified for the viewport.
func (db *DB) QueryPathsWithPoints(bbox BBox, start, end *int64) ([]Path, error) {
	paths, err := db.QueryPathsByBBox(bbox, start, end)
	if err != nil {
		return nil, err
	}

	tolerance := ToleranceFromBBox(bbox)
	for i := range paths {
		points, err := db.GetPathPoints(paths[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load points of path %d: %w", paths[i].ID, err)
		}
		paths[i].Points = SimplifyPath(points, tolerance)
	}
	return paths, nil
}

const pathSampleColumns = `SELECT username, sort_ts, latitude, longitude FROM records
	WHERE sort_ts IS NOT NULL AND latitude IS NOT NULL AND longitude IS NOT NULL`

// RebuildAllPaths discards every stored path and recomputes them from the
// archived records.
func (db *DB) RebuildAllPaths() error {
	for _, table := range []string{"path_points", "paths"} {
		if _, err := db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	samples, err := db.queryPathSamples(pathSampleColumns + ` ORDER BY sort_ts`)
	if err != nil {
		return err
	}
	for _, path := range ComputePaths(samples) {
		if err := db.CreateOrUpdatePath(path); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePathsForRecords recomputes the paths touched by newly archived
// records.
func (db *DB) UpdatePathsForRecords(records []Record) error {
	touched := make(map[string]pathSample)
	for _, s := range samplesFromRecords(records) {
		touched[s.key()] = s
	}

	for key, s := range touched {
		date := LocalDateFromTimestamp(s.Timestamp, s.Lat, s.Lon)
		samples, err := db.queryPathSamplesByUserDate(s.Username, date)
		if err != nil {
			return err
		}
		if path := ComputePaths(samples)[key]; path != nil {
			if err := db.CreateOrUpdatePath(path); err != nil {
				return err
			}
		}
	}
	return nil
}

// queryPathSamplesByUserDate returns the samples of a user on a local date.
// Local dates depend on each sample's longitude, so a window wide enough for
// every offset is fetched and filtered.
func (db *DB) queryPathSamplesByUserDate(username, date string) ([]pathSample, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, err
	}
	from := day.Add(-14 * time.Hour).UnixNano()
	to := day.Add(36 * time.Hour).UnixNano()

	samples, err := db.queryPathSamples(pathSampleColumns+` AND username = ? AND sort_ts >= ? AND sort_ts <= ? ORDER BY sort_ts`,
		username, from, to)
	if err != nil {
		return nil, err
	}

	filtered := samples[:0]
	for _, s := range samples {
		if LocalDateFromTimestamp(s.Timestamp, s.Lat, s.Lon) == date {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

func (db *DB) queryPathSamples(query string, args ...any) ([]pathSample, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []pathSample
	for rows.Next() {
		var s pathSample
		var ns int64
		if err := rows.Scan(&s.Username, &ns, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		s.Timestamp = time.Unix(0, ns).Unix()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
