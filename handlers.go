package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// maxUploadBytes bounds a multipart import request.
const maxUploadBytes = 500 << 20

type Server struct {
	db        *DB
	runs      *RunManager
	opts      Options
	uploadDir string
}

// NewServer wires the HTTP API to an archive. Uploaded files are staged
// under uploadDir until their import run ends.
func NewServer(db *DB, runs *RunManager, opts Options, uploadDir string) *Server {
	return &Server{db: db, runs: runs, opts: opts, uploadDir: uploadDir}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/api/import/cancel", s.handleImportCancel)
	mux.HandleFunc("/api/records", s.handleAPIRecords)
	mux.HandleFunc("/api/paths", s.handleAPIPaths)
	mux.HandleFunc("/api/paths/rebuild", s.handleAPIPathsRebuild)
	mux.HandleFunc("/api/runs", s.handleAPIRuns)
	return mux
}

// parseBBox parses a bounding box string in format sw_lng,sw_lat,ne_lng,ne_lat
func parseBBox(bboxStr string) (BBox, error) {
	parts := strings.Split(bboxStr, ",")
	if len(parts) != 4 {
		return BBox{}, errInvalidBBox
	}

	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, errInvalidBBox
		}
		vals[i] = v
	}
	return BBox{SwLng: vals[0], SwLat: vals[1], NeLng: vals[2], NeLat: vals[3]}, nil
}

var errInvalidBBox = &httpError{code: http.StatusBadRequest, msg: "invalid bbox format"}

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// parseUnixRange reads optional start/end query parameters in unix seconds.
// Unparsable values are ignored.
func parseUnixRange(r *http.Request) (start, end *int64) {
	if v, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64); err == nil {
		start = &v
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64); err == nil {
		end = &v
	}
	return start, end
}

// POST /api/import - Stages uploaded files and converts them in the background
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	dir, err := os.MkdirTemp(s.uploadDir, "upload-")
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	// Each file is staged in its own numbered directory so equal base names
	// cannot overwrite each other; the base name still carries the username.
	var files []SourceFile
	var names []string
	for i, fh := range headers {
		name := filepath.Base(fh.Filename)
		kind, ok := KindForPath(name)
		if !ok {
			os.RemoveAll(dir)
			http.Error(w, fmt.Sprintf("unsupported file type: %s", name), http.StatusBadRequest)
			return
		}
		path := filepath.Join(dir, strconv.Itoa(i), name)
		if err := saveUpload(fh, path); err != nil {
			os.RemoveAll(dir)
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		files = append(files, SourceFile{Path: path, Kind: kind})
		names = append(names, name)
	}

	runID, err := s.runs.StartImport("upload:"+strings.Join(names, ","), files, dir)
	if err != nil {
		os.RemoveAll(dir)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// POST /api/import/cancel?id= - Cancels a running import
func (s *Server) handleImportCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.runs.CancelImport(r.URL.Query().Get("id")); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// GET /api/records - Returns archived records in time order
func (s *Server) handleAPIRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := RecordQuery{
		Type:     r.URL.Query().Get("type"),
		Username: r.URL.Query().Get("user"),
		Limit:    10000,
	}
	if bboxStr := r.URL.Query().Get("bbox"); bboxStr != "" {
		bbox, err := parseBBox(bboxStr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.BBox = &bbox
	}
	start, end := parseUnixRange(r)
	if start != nil {
		t := time.Unix(*start, 0)
		q.Start = &t
	}
	if end != nil {
		t := time.Unix(*end, 0)
		q.End = &t
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		q.Limit = v
	}

	records, err := s.db.QueryRecords(q, s.opts.OutputLoc)
	if err != nil {
		log.Printf("query records: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GET /api/paths - Returns pre-computed paths intersecting the bounding box
func (s *Server) handleAPIPaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bboxStr := r.URL.Query().Get("bbox")
	if bboxStr == "" {
		http.Error(w, "bbox required", http.StatusBadRequest)
		return
	}
	bbox, err := parseBBox(bboxStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start, end := parseUnixRange(r)
	paths, err := s.db.QueryPathsWithPoints(bbox, start, end)
	if err != nil {
		log.Printf("query paths: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}

// POST /api/paths/rebuild - Rebuilds all paths from scratch
func (s *Server) handleAPIPathsRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.db.RebuildAllPaths(); err != nil {
		http.Error(w, "rebuild failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/runs - Lists import runs, or reports one with ?id=
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		progress, err := s.runs.GetRunProgress(id)
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, progress)
		return
	}

	runs, err := s.db.ListImportRuns()
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []ImportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
