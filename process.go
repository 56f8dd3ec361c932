package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
)

// parseError marks input whose shape or text cannot be understood.
type parseError string

func (e parseError) Error() string { return string(e) }

const (
	ErrUnrecognizedFormat = parseError("unrecognized input format")
	ErrUndecodable        = parseError("no supported text encoding decodes the file")
)

// containerError marks a file that holds nothing to parse. It matches
// fs.ErrNotExist so callers can treat it like a missing file.
type containerError string

func (e containerError) Error() string        { return string(e) }
func (e containerError) Is(target error) bool { return target == fs.ErrNotExist }

const (
	ErrEmptyFile  = containerError("file is empty")
	ErrNoKMLEntry = containerError("no KML document in KMZ archive")
)

// FileResult describes the outcome of processing one input file.
type FileResult struct {
	Path     string        `json:"path"`
	Kind     SourceKind    `json:"kind"`
	Username string        `json:"username"`
	Encoding string        `json:"encoding,omitempty"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// OK reports whether the file produced records without error.
func (r FileResult) OK() bool { return r.Err == nil && r.Records > 0 }

// Pipeline turns source files into normalized batches.
type Pipeline struct {
	opts Options
	norm Normalizer
}

// NewPipeline returns a pipeline using the resolved options.
func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{opts: opts, norm: NewNormalizer(opts)}
}

// Parse routes one document to its parser and normalizes the result. name
// is the file name; it selects KML vs KMZ and feeds the classifier.
func (p *Pipeline) Parse(kind SourceKind, name string, data []byte, username string) (records []Record, encoding string, err error) {
	var drafts []Draft
	base := filepath.Base(name)

	switch kind {
	case KindJSON:
		var text []byte
		text, encoding, err = decodeJSONText(data)
		if err != nil {
			return nil, encoding, err
		}
		drafts, err = ParseTimeline(text, username)
	case KindGPX:
		drafts, err = ParseGPX(data, base, username, p.opts.Thresholds)
	case KindKML:
		if strings.EqualFold(filepath.Ext(name), ".kmz") {
			drafts, err = ParseKMZ(data, base, username, p.opts.Thresholds)
		} else {
			drafts, err = ParseKML(data, base, username, p.opts.Thresholds)
		}
	default:
		return nil, "", fmt.Errorf("%s: %w", name, ErrUnrecognizedFormat)
	}
	if err != nil {
		return nil, encoding, err
	}
	return p.norm.Normalize(drafts), encoding, nil
}

// ProcessFile reads, parses and normalizes one file. Any failure, including
// a panic inside a parser, is reported in the result and never propagates.
func (p *Pipeline) ProcessFile(f SourceFile) (batch Batch, res FileResult) {
	start := time.Now()
	res = FileResult{
		Path:     f.Path,
		Kind:     f.Kind,
		Username: UsernameFromPath(f.Path, p.opts.DefaultUser),
	}
	batch.Source = f.Path

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic while processing %s: %v", f.Path, r)
			if p.opts.Debug {
				log.Printf("%s\n%s", res.Err, debug.Stack())
			}
			batch.Records = nil
		}
		res.Records = len(batch.Records)
		res.Duration = time.Since(start)
	}()

	data, err := ReadSource(f.Path)
	if err != nil {
		res.Err = err
		return batch, res
	}

	batch.Records, res.Encoding, res.Err = p.Parse(f.Kind, f.Path, data, res.Username)
	return batch, res
}

// Run processes files in order and merges the batches. ctx is checked
// between files; on cancellation the batches processed so far are merged
// and ctx.Err() is returned. progress, if set, is called after every file.
func (p *Pipeline) Run(ctx context.Context, files []SourceFile, progress func(i int, res FileResult)) (Merged, []FileResult, error) {
	var batches []Batch
	var results []FileResult

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return Merge(batches), results, err
		}

		batch, res := p.ProcessFile(f)
		results = append(results, res)
		if res.Err != nil {
			log.Printf("skipping %s: %v", f.Path, res.Err)
		} else if p.opts.Debug {
			log.Printf("%s: %d records in %s", f.Path, res.Records, res.Duration)
		}
		batches = append(batches, batch)

		if progress != nil {
			progress(i, res)
		}
	}

	return Merge(batches), results, nil
}
