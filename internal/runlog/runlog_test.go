package runlog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chadmayfield/seismicd/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore() (*Store, *storage.MemoryStore) {
	objects := storage.NewMemoryStore()
	return NewStore(objects, 0, discardLogger()), objects
}

func entryAt(start time.Time, files int, success bool) Entry {
	e := Entry{
		ID:        NewID(),
		StartTime: start,
		EndTime:   start.Add(30 * time.Second),
		Success:   success,
		Stations:  []string{"AV.SPCP.--.BHZ"},
	}
	if files > 0 {
		e.FilesCreated = map[string]int{"10min": files}
		e.Successful = files
		e.TotalTasks = files
	}
	return e
}

func TestLoadEmptyLog(t *testing.T) {
	s, _ := newTestStore()
	l, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(l.Runs) != 0 || l.Summary.TotalRuns != 0 {
		t.Errorf("empty log = %+v", l)
	}
}

func TestAppendNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	now := time.Now().UTC()

	first := entryAt(now.Add(-20*time.Minute), 3, true)
	second := entryAt(now.Add(-10*time.Minute), 5, true)
	s.Append(ctx, first)
	s.Append(ctx, second)

	l, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(l.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(l.Runs))
	}
	if l.Runs[0].ID != second.ID || l.Runs[1].ID != first.ID {
		t.Error("runs are not newest-first")
	}
	if l.Summary.TotalRuns != 2 || l.Summary.SuccessfulRuns != 2 {
		t.Errorf("summary = %+v", l.Summary)
	}
	if l.Summary.FilesCreated != 8 {
		t.Errorf("FilesCreated = %d, want 8", l.Summary.FilesCreated)
	}
	if !l.Summary.LastRunAt.Equal(second.StartTime) {
		t.Errorf("LastRunAt = %v, want %v", l.Summary.LastRunAt, second.StartTime)
	}
	if !l.Summary.OldestRetained.Equal(first.StartTime) {
		t.Errorf("OldestRetained = %v, want %v", l.Summary.OldestRetained, first.StartTime)
	}
}

func TestAppendPrunesOldEntries(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemoryStore()
	s := NewStore(objects, time.Hour, discardLogger())
	now := time.Now().UTC()

	old := entryAt(now.Add(-2*time.Hour), 1, true)
	s.Append(ctx, old)
	recent := entryAt(now.Add(-10*time.Minute), 2, true)
	s.Append(ctx, recent)

	l, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(l.Runs) != 1 || l.Runs[0].ID != recent.ID {
		t.Errorf("runs after prune = %+v, want only the recent entry", l.Runs)
	}
	if l.Summary.FilesCreated != 2 {
		t.Errorf("FilesCreated = %d, want 2 (pruned run excluded)", l.Summary.FilesCreated)
	}
}

// An entry starting exactly at the retention cutoff survives pruning;
// retention drops only entries strictly older.
func TestPruneKeepsCutoffBoundary(t *testing.T) {
	cutoff := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	runs := []Entry{
		entryAt(cutoff.Add(time.Second), 1, true),
		entryAt(cutoff, 1, true),
		entryAt(cutoff.Add(-time.Second), 1, true),
	}

	kept := prune(runs, cutoff)
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if !kept[1].StartTime.Equal(cutoff) {
		t.Errorf("entry at the cutoff instant was dropped")
	}
}

func TestAppendCapsFailureDetails(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	now := time.Now().UTC()

	e := entryAt(now, 0, false)
	for i := 0; i < maxFailureDetails+20; i++ {
		e.FailureDetails = append(e.FailureDetails, Failure{
			Station: "AV.SPCP.--.BHZ", ChunkType: "10min", Error: "IRIS_FETCH: timeout",
		})
	}
	e.Failed = len(e.FailureDetails)
	s.Append(ctx, e)

	l, _ := s.Load(ctx)
	if got := len(l.Runs[0].FailureDetails); got != maxFailureDetails {
		t.Errorf("failure details = %d, want capped at %d", got, maxFailureDetails)
	}
	// The failed count itself is not capped.
	if l.Runs[0].Failed != maxFailureDetails+20 {
		t.Errorf("Failed = %d, want %d", l.Runs[0].Failed, maxFailureDetails+20)
	}
}

func TestLastProductiveSkipsEmptyRuns(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	now := time.Now().UTC()

	productive := entryAt(now.Add(-30*time.Minute), 4, true)
	s.Append(ctx, productive)
	s.Append(ctx, entryAt(now.Add(-20*time.Minute), 0, true)) // all skipped
	s.Append(ctx, entryAt(now.Add(-10*time.Minute), 0, false))

	got, err := s.LastProductive(ctx)
	if err != nil {
		t.Fatalf("LastProductive: %v", err)
	}
	if got == nil || got.ID != productive.ID {
		t.Errorf("LastProductive = %+v, want the run that created files", got)
	}
}

func TestLastProductiveNone(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	s.Append(ctx, entryAt(time.Now().UTC(), 0, true))

	got, err := s.LastProductive(ctx)
	if err != nil {
		t.Fatalf("LastProductive: %v", err)
	}
	if got != nil {
		t.Errorf("LastProductive = %+v, want nil", got)
	}
}

// Run log writes are non-critical: a failing backend drops the entry with a
// warning instead of surfacing an error.
func TestAppendSurvivesCorruptDocument(t *testing.T) {
	ctx := context.Background()
	s, objects := newTestStore()

	if err := objects.Put(ctx, DefaultKey, []byte("{broken")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Append(ctx, entryAt(time.Now().UTC(), 1, true)) // must not panic

	if _, err := s.Load(ctx); err == nil {
		t.Error("expected Load to report the corrupt document")
	}
}

func TestTotalFiles(t *testing.T) {
	e := Entry{FilesCreated: map[string]int{"10min": 36, "1hour": 6, "6hour": 1}}
	if got := e.TotalFiles(); got != 43 {
		t.Errorf("TotalFiles = %d, want 43", got)
	}
	if got := (Entry{}).TotalFiles(); got != 0 {
		t.Errorf("TotalFiles(empty) = %d, want 0", got)
	}
}
