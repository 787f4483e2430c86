// Package runlog maintains the rolling JSON log of collection runs. The
// newest productive entry is the authority for "most recent complete
// window"; nothing ever answers that question by scanning storage.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chadmayfield/seismicd/internal/storage"
)

// DefaultKey is the object key of the run log document.
const DefaultKey = "runlog/runs.json"

// DefaultRetention is how long entries are kept before pruning.
const DefaultRetention = 7 * 24 * time.Hour

// maxFailureDetails caps the failure records kept per run entry.
const maxFailureDetails = 50

// Failure records one failed chunk within a run.
type Failure struct {
	Station   string    `json:"station"`
	ChunkType string    `json:"chunk_type"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Step      string    `json:"step,omitempty"`
	Error     string    `json:"error"`
}

// Entry is the outcome of one collection run.
type Entry struct {
	ID              string         `json:"id"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	Success         bool           `json:"success"`
	Stations        []string       `json:"stations"`
	FilesCreated    map[string]int `json:"files_created"` // keyed by chunk type
	TotalTasks      int            `json:"total_tasks"`
	Successful      int            `json:"successful"`
	Skipped         int            `json:"skipped"`
	Failed          int            `json:"failed"`
	FailureDetails  []Failure      `json:"failure_details,omitempty"`
}

// TotalFiles sums the per-type created counts.
func (e Entry) TotalFiles() int {
	total := 0
	for _, n := range e.FilesCreated {
		total += n
	}
	return total
}

// Summary aggregates the retained entries.
type Summary struct {
	TotalRuns      int       `json:"total_runs"`
	SuccessfulRuns int       `json:"successful_runs"`
	FailedRuns     int       `json:"failed_runs"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastSuccessAt  time.Time `json:"last_success_at,omitempty"`
	LastProductive time.Time `json:"last_productive_at,omitempty"`
	FilesCreated   int       `json:"files_created"`
	OldestRetained time.Time `json:"oldest_retained,omitempty"`
}

// Log is the stored document: summary plus runs, newest first.
type Log struct {
	Summary Summary `json:"summary"`
	Runs    []Entry `json:"runs"`
}

// Store reads and appends the run log in object storage.
type Store struct {
	objects   storage.Store
	key       string
	retention time.Duration
	logger    *slog.Logger
}

// NewStore creates a run log store. Zero retention uses DefaultRetention.
func NewStore(objects storage.Store, retention time.Duration, logger *slog.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{objects: objects, key: DefaultKey, retention: retention, logger: logger}
}

// NewID returns a fresh run ID.
func NewID() string { return uuid.NewString() }

// Load fetches the current log, or an empty one if none exists yet.
func (s *Store) Load(ctx context.Context) (*Log, error) {
	data, err := s.objects.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Log{}, nil
		}
		return nil, fmt.Errorf("loading run log: %w", err)
	}
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decoding run log: %w", err)
	}
	return &l, nil
}

// Append prepends the entry, prunes entries older than the retention window,
// recomputes the summary, and saves. The run log is a non-critical surface:
// failures are logged as warnings, never returned, so a storage hiccup here
// cannot fail a collection run that already persisted its chunks.
func (s *Store) Append(ctx context.Context, e Entry) {
	if len(e.FailureDetails) > maxFailureDetails {
		e.FailureDetails = e.FailureDetails[:maxFailureDetails]
	}

	l, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("run log load failed, dropping entry", "error", err)
		return
	}

	l.Runs = append([]Entry{e}, l.Runs...)
	l.Runs = prune(l.Runs, time.Now().UTC().Add(-s.retention))
	l.Summary = summarize(l.Runs)

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		s.logger.Warn("run log encode failed, dropping entry", "error", err)
		return
	}
	if err := s.objects.Put(ctx, s.key, data); err != nil {
		s.logger.Warn("run log save failed, dropping entry", "error", err)
	}
}

// LastProductive returns the newest entry that actually created files, or
// nil if no retained run has. Backfill derives its starting boundary from
// this entry's start time.
func (s *Store) LastProductive(ctx context.Context) (*Entry, error) {
	l, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range l.Runs {
		if l.Runs[i].TotalFiles() > 0 {
			return &l.Runs[i], nil
		}
	}
	return nil, nil
}

// prune drops entries strictly older than the cutoff. An entry starting
// exactly at the cutoff instant is retained.
func prune(runs []Entry, cutoff time.Time) []Entry {
	kept := runs[:0]
	for _, run := range runs {
		if !run.StartTime.Before(cutoff) {
			kept = append(kept, run)
		}
	}
	return kept
}

func summarize(runs []Entry) Summary {
	var sum Summary
	sum.TotalRuns = len(runs)
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if run.Success {
			sum.SuccessfulRuns++
			sum.LastSuccessAt = run.StartTime
		} else {
			sum.FailedRuns++
		}
		sum.LastRunAt = run.StartTime
		if run.TotalFiles() > 0 {
			sum.LastProductive = run.StartTime
		}
		sum.FilesCreated += run.TotalFiles()
	}
	if len(runs) > 0 {
		sum.OldestRetained = runs[len(runs)-1].StartTime
	}
	return sum
}
