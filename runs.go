package main

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunProgress is the externally visible state of an import run.
type RunProgress struct {
	RunID          string  `json:"run_id"`
	Status         string  `json:"status"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	FilesFailed    int     `json:"files_failed"`
	Imported       int     `json:"imported"`
	Skipped        int     `json:"skipped"`
	Percent        float64 `json:"percent"`
	Error          string  `json:"error,omitempty"`
}

// RunManager converts files into the archive and records each conversion as
// an import run. Uploads run in the background and can be cancelled.
type RunManager struct {
	db       *DB
	pipeline *Pipeline
	jobs     map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewRunManager creates a run manager and marks runs left running by a
// previous process as interrupted.
func NewRunManager(db *DB, pipeline *Pipeline) *RunManager {
	rm := &RunManager{
		db:       db,
		pipeline: pipeline,
		jobs:     make(map[string]context.CancelFunc),
	}
	rm.markInterruptedRuns()
	return rm
}

func (rm *RunManager) markInterruptedRuns() {
	runs, err := rm.db.ListImportRuns()
	if err != nil {
		log.Printf("failed to list import runs: %v", err)
		return
	}

	for _, run := range runs {
		if run.Status == "running" {
			run.Status = "interrupted"
			errMsg := "process restarted"
			run.LastError = &errMsg
			if err := rm.db.UpdateImportRun(run); err != nil {
				log.Printf("failed to mark run %s as interrupted: %v", run.ID, err)
			}
		}
	}
}

// Archive records an already merged conversion as a completed run.
func (rm *RunManager) Archive(source string, merged Merged, results []FileResult) (*ImportRun, error) {
	run := rm.newRun(source, len(results))
	if err := rm.db.CreateImportRun(*run); err != nil {
		return nil, err
	}

	for _, res := range results {
		run.FilesProcessed++
		if res.Err != nil {
			run.FilesFailed++
		}
	}
	rm.store(run, merged.Records)
	rm.finish(run, "completed", nil)
	return run, nil
}

// StartImport converts the given files in the background. A non-empty
// stagingDir is removed with everything in it when the run ends.
func (rm *RunManager) StartImport(source string, files []SourceFile, stagingDir string) (string, error) {
	run := rm.newRun(source, len(files))
	if err := rm.db.CreateImportRun(*run); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.mu.Lock()
	rm.jobs[run.ID] = cancel
	rm.mu.Unlock()

	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		if stagingDir != "" {
			defer func() {
				if err := os.RemoveAll(stagingDir); err != nil {
					log.Printf("remove staged uploads %s: %v", stagingDir, err)
				}
			}()
		}
		rm.runImport(ctx, run, files)
	}()

	return run.ID, nil
}

// CancelImport cancels a running import
func (rm *RunManager) CancelImport(runID string) error {
	rm.mu.Lock()
	cancel, exists := rm.jobs[runID]
	if exists {
		cancel()
	}
	rm.mu.Unlock()

	if !exists {
		return ErrRunNotFound
	}
	return nil
}

// Wait blocks until every background import has ended.
func (rm *RunManager) Wait() {
	rm.wg.Wait()
}

func (rm *RunManager) runImport(ctx context.Context, run *ImportRun, files []SourceFile) {
	defer func() {
		rm.mu.Lock()
		delete(rm.jobs, run.ID)
		rm.mu.Unlock()
	}()

	merged, _, err := rm.pipeline.Run(ctx, files, func(i int, res FileResult) {
		run.FilesProcessed++
		if res.Err != nil {
			run.FilesFailed++
			errMsg := res.Err.Error()
			run.LastError = &errMsg
		}
		if err := rm.db.UpdateImportRun(*run); err != nil {
			log.Printf("import run %s: failed to checkpoint: %v", run.ID, err)
		}
	})
	if err != nil {
		rm.finish(run, "cancelled", err)
		return
	}

	rm.store(run, merged.Records)
	rm.finish(run, "completed", nil)

	log.Printf("import run %s: completed - files=%d failed=%d imported=%d skipped=%d",
		run.ID, run.FilesProcessed, run.FilesFailed, run.Imported, run.Skipped)
}

// store archives records and refreshes the daily paths they touch.
func (rm *RunManager) store(run *ImportRun, records []Record) {
	inserted, skipped, err := rm.db.InsertRecordBatch(run.ID, records)
	run.Imported += inserted
	run.Skipped += skipped
	if err != nil {
		errMsg := err.Error()
		run.LastError = &errMsg
		log.Printf("import run %s: failed to insert records: %v", run.ID, err)
		return
	}

	if inserted > 0 {
		if err := rm.db.UpdatePathsForRecords(records); err != nil {
			log.Printf("import run %s: failed to update paths: %v", run.ID, err)
		}
	}
}

func (rm *RunManager) newRun(source string, files int) *ImportRun {
	return &ImportRun{
		ID:         uuid.New().String(),
		Status:     "running",
		Source:     source,
		StartedAt:  time.Now().Unix(),
		FilesTotal: files,
	}
}

func (rm *RunManager) finish(run *ImportRun, status string, err error) {
	run.Status = status
	now := time.Now().Unix()
	run.CompletedAt = &now
	if err != nil {
		errMsg := err.Error()
		run.LastError = &errMsg
	}
	if err := rm.db.UpdateImportRun(*run); err != nil {
		log.Printf("import run %s: failed to mark %s: %v", run.ID, status, err)
	}
}

// GetRunProgress returns current progress for a run
func (rm *RunManager) GetRunProgress(runID string) (*RunProgress, error) {
	run, err := rm.db.GetImportRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}

	var percent float64
	if run.FilesTotal > 0 {
		percent = float64(run.FilesProcessed) / float64(run.FilesTotal) * 100
	}

	progress := &RunProgress{
		RunID:          run.ID,
		Status:         run.Status,
		FilesTotal:     run.FilesTotal,
		FilesProcessed: run.FilesProcessed,
		FilesFailed:    run.FilesFailed,
		Imported:       run.Imported,
		Skipped:        run.Skipped,
		Percent:        percent,
	}
	if run.LastError != nil {
		progress.Error = *run.LastError
	}
	return progress, nil
}

type runError string

func (e runError) Error() string { return string(e) }

const ErrRunNotFound = runError("import run not found")
