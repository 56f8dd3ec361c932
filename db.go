package main

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	*sql.DB
}

func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	return &DB{db}, nil
}

// runMigrations applies the embedded schema. The migrate instance is not
// closed because that would close db as well.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

type BBox struct {
	SwLng, SwLat, NeLng, NeLat float64
}

// RecordQuery filters archived records. Zero values mean no filter.
type RecordQuery struct {
	BBox     *BBox
	Start    *time.Time
	End      *time.Time
	Type     string
	Username string
	Limit    int
}

const recordColumns = `type, username, start_time, end_time, point_time, latitude, longitude,
	visit_probability, visit_place_id, visit_semantic_type,
	activity_distance_meters, activity_type, activity_probability,
	gpx_data_source, gpx_track_name, gpx_elevation, gpx_speed, gpx_point_sequence, gpx_description`

// InsertRecordBatch archives records in a single transaction. seq preserves
// the merged order. Returns count of inserted and skipped (duplicate) records.
func (db *DB) InsertRecordBatch(runID string, records []Record) (inserted, skipped int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO records (run_id, seq, sort_ts, ` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		var sortTS *int64
		if t, ok := r.SortTime(); ok {
			sortTS = nanos(&t)
		}
		result, err := stmt.Exec(runID, i, sortTS,
			r.Type, r.Username, nanos(r.StartTime), nanos(r.EndTime), nanos(r.PointTime),
			r.Latitude, r.Longitude,
			r.VisitProbability, r.VisitPlaceID, r.VisitSemanticType,
			r.ActivityDistanceMeters, r.ActivityType, r.ActivityProbability,
			r.GPXDataSource, r.GPXTrackName, r.GPXElevation, r.GPXSpeed, r.GPXPointSequence, r.GPXDescription,
		)
		if err != nil {
			return inserted, skipped, err
		}
		affected, _ := result.RowsAffected()
		if affected > 0 {
			inserted++
		} else {
			skipped++
		}
	}

	err = tx.Commit()
	return inserted, skipped, err
}

// QueryRecords returns archived records in time order, untimed records last.
// Times are expressed in loc.
func (db *DB) QueryRecords(q RecordQuery, loc *time.Location) ([]Record, error) {
	var where []string
	var args []any

	if q.BBox != nil {
		where = append(where, "latitude >= ? AND latitude <= ? AND longitude >= ? AND longitude <= ?")
		args = append(args, q.BBox.SwLat, q.BBox.NeLat, q.BBox.SwLng, q.BBox.NeLng)
	}
	if q.Start != nil {
		where = append(where, "sort_ts >= ?")
		args = append(args, q.Start.UnixNano())
	}
	if q.End != nil {
		where = append(where, "sort_ts <= ?")
		args = append(args, q.End.UnixNano())
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Username != "" {
		where = append(where, "username = ?")
		args = append(args, q.Username)
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sort_ts IS NULL, sort_ts, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows, loc)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows, loc *time.Location) (Record, error) {
	var r Record
	var start, end, point sql.NullInt64
	var lat, lon, visitProb, dist, actProb, ele, speed, pointSeq sql.NullFloat64
	var placeID, semantic, actType, dataSource, trackName, desc sql.NullString

	err := rows.Scan(&r.Type, &r.Username, &start, &end, &point, &lat, &lon,
		&visitProb, &placeID, &semantic,
		&dist, &actType, &actProb,
		&dataSource, &trackName, &ele, &speed, &pointSeq, &desc)
	if err != nil {
		return r, err
	}

	r.StartTime, r.EndTime, r.PointTime = fromNanos(start, loc), fromNanos(end, loc), fromNanos(point, loc)
	r.Latitude, r.Longitude = nullFloat(lat), nullFloat(lon)
	r.VisitProbability, r.VisitPlaceID, r.VisitSemanticType = nullFloat(visitProb), nullString(placeID), nullString(semantic)
	r.ActivityDistanceMeters, r.ActivityType, r.ActivityProbability = nullFloat(dist), nullString(actType), nullFloat(actProb)
	r.GPXDataSource, r.GPXTrackName = nullString(dataSource), nullString(trackName)
	r.GPXElevation, r.GPXSpeed, r.GPXPointSequence = nullFloat(ele), nullFloat(speed), nullFloat(pointSeq)
	r.GPXDescription = nullString(desc)
	return r, nil
}

func nanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanos(n sql.NullInt64, loc *time.Location) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).In(loc)
	return &t
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// ImportRun is one conversion or upload recorded in the archive.
type ImportRun struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Source         string  `json:"source"`
	StartedAt      int64   `json:"started_at"`
	CompletedAt    *int64  `json:"completed_at,omitempty"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	FilesFailed    int     `json:"files_failed"`
	Imported       int     `json:"imported"`
	Skipped        int     `json:"skipped"`
	LastError      *string `json:"last_error,omitempty"`
}

const importRunColumns = `id, status, source, started_at, completed_at, files_total, files_processed, files_failed, imported, skipped, last_error`

// CreateImportRun creates a new import run record
func (db *DB) CreateImportRun(run ImportRun) error {
	_, err := db.Exec(
		`INSERT INTO import_runs (`+importRunColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.Source, run.StartedAt, run.CompletedAt, run.FilesTotal,
		run.FilesProcessed, run.FilesFailed, run.Imported, run.Skipped, run.LastError,
	)
	return err
}

// GetImportRun retrieves an import run by ID
func (db *DB) GetImportRun(id string) (*ImportRun, error) {
	row := db.QueryRow(`SELECT `+importRunColumns+` FROM import_runs WHERE id = ?`, id)
	run, err := scanImportRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateImportRun updates an import run's progress
func (db *DB) UpdateImportRun(run ImportRun) error {
	_, err := db.Exec(
		`UPDATE import_runs SET status = ?, completed_at = ?, files_total = ?, files_processed = ?, files_failed = ?, imported = ?, skipped = ?, last_error = ? WHERE id = ?`,
		run.Status, run.CompletedAt, run.FilesTotal, run.FilesProcessed, run.FilesFailed, run.Imported, run.Skipped, run.LastError, run.ID,
	)
	return err
}

// ListImportRuns returns import runs, most recent first
func (db *DB) ListImportRuns() ([]ImportRun, error) {
	rows, err := db.Query(`SELECT ` + importRunColumns + ` FROM import_runs ORDER BY started_at DESC LIMIT 50`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImportRun(row rowScanner) (*ImportRun, error) {
	var run ImportRun
	var completedAt sql.NullInt64
	var lastError sql.NullString
	err := row.Scan(&run.ID, &run.Status, &run.Source, &run.StartedAt, &completedAt, &run.FilesTotal,
		&run.FilesProcessed, &run.FilesFailed, &run.Imported, &run.Skipped, &lastError)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Int64
	}
	run.LastError = nullString(lastError)
	return &run, nil
}
