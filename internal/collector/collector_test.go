package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/fetch"
	"github.com/chadmayfield/seismicd/internal/metadata"
	"github.com/chadmayfield/seismicd/internal/persist"
	"github.com/chadmayfield/seismicd/internal/runlog"
	"github.com/chadmayfield/seismicd/internal/storage"
)

var testStation = chunk.Station{
	Network:    "AV",
	Station:    "SPCP",
	Channel:    "BHZ",
	Volcano:    "spurr",
	SampleRate: 1,
}

// countingSource serves a complete synthetic trace for any window and
// counts upstream calls.
type countingSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSource) Traces(_ context.Context, st chunk.Station, start, end time.Time) ([]fetch.Trace, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	n := int(math.Round(end.Sub(start).Seconds() * st.SampleRate))
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = int32(i%512 - 256)
	}
	return []fetch.Trace{{Start: start, Samples: samples}}, nil
}

func (s *countingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testHarness struct {
	collector *Collector
	source    *countingSource
	objects   *storage.MemoryStore
	meta      *metadata.Store
	runlog    *runlog.Store
}

func newHarness() *testHarness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	objects := storage.NewMemoryStore()
	meta := metadata.NewStore(objects, logger)
	rl := runlog.NewStore(objects, 0, logger)
	src := &countingSource{}
	p := persist.New(objects, meta, logger)
	return &testHarness{
		collector: New(src, p, meta, rl, []chunk.Station{testStation}, 5*time.Minute, logger),
		source:    src,
		objects:   objects,
		meta:      meta,
		runlog:    rl,
	}
}

func TestRunOnceTenMinuteWindow(t *testing.T) {
	h := newHarness()
	now := time.Date(2024, 6, 10, 12, 26, 0, 0, time.UTC)

	entry := h.collector.RunOnce(context.Background(), now)
	if !entry.Success {
		t.Fatalf("entry = %+v, want success", entry)
	}
	if entry.Successful != 1 || entry.TotalFiles() != 1 {
		t.Errorf("entry = %+v, want one ten-minute chunk", entry)
	}
	if h.source.callCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", h.source.callCount())
	}

	// The 12:10 chunk was due (12:26 minus 5m quantizes to 12:20).
	m, err := h.meta.Load(context.Background(), testStation, now)
	if err != nil || m == nil {
		t.Fatalf("metadata = (%v, %v)", m, err)
	}
	if m.Find(chunk.TenMin, "12:10:00") == nil {
		t.Error("expected a record for the 12:10 window")
	}
}

// A six-hour boundary run fetches once per station and derives all 43
// nested chunks from that single window.
func TestRunOnceSixHourBoundary(t *testing.T) {
	h := newHarness()
	now := time.Date(2024, 6, 10, 6, 6, 0, 0, time.UTC)

	entry := h.collector.RunOnce(context.Background(), now)
	if !entry.Success {
		t.Fatalf("entry = %+v, want success", entry)
	}
	if entry.Successful != 43 {
		t.Errorf("Successful = %d, want 43 (1+6+36 nested chunks)", entry.Successful)
	}
	if h.source.callCount() != 1 {
		t.Errorf("upstream calls = %d, want exactly 1", h.source.callCount())
	}
	want := map[string]int{"6hour": 1, "1hour": 6, "10min": 36}
	for typ, n := range want {
		if entry.FilesCreated[typ] != n {
			t.Errorf("FilesCreated[%s] = %d, want %d", typ, entry.FilesCreated[typ], n)
		}
	}
}

// Re-running an already collected window skips the upstream fetch entirely.
func TestRunOnceSkipsCompleteWindow(t *testing.T) {
	h := newHarness()
	now := time.Date(2024, 6, 10, 6, 6, 0, 0, time.UTC)

	h.collector.RunOnce(context.Background(), now)
	entry := h.collector.RunOnce(context.Background(), now)

	if entry.Successful != 0 || entry.Skipped != 43 {
		t.Errorf("second run = %+v, want all 43 skipped", entry)
	}
	if h.source.callCount() != 1 {
		t.Errorf("upstream calls = %d, want 1 (second run must not fetch)", h.source.callCount())
	}
}

func TestRunOnceFetchFailure(t *testing.T) {
	h := newHarness()
	h.source.err = errors.New("upstream down")
	now := time.Date(2024, 6, 10, 12, 26, 0, 0, time.UTC)

	entry := h.collector.RunOnce(context.Background(), now)
	if entry.Success {
		t.Error("entry.Success = true with a failing source")
	}
	if entry.Failed != 1 {
		t.Errorf("Failed = %d, want 1", entry.Failed)
	}
	if len(entry.FailureDetails) != 1 {
		t.Fatalf("FailureDetails = %+v", entry.FailureDetails)
	}
	f := entry.FailureDetails[0]
	if f.Step != fetch.StepFetch {
		t.Errorf("Step = %q, want %q", f.Step, fetch.StepFetch)
	}
	if f.Station != testStation.Code() {
		t.Errorf("Station = %q", f.Station)
	}
}

func TestRunOnceAppendsRunLog(t *testing.T) {
	h := newHarness()
	now := time.Date(2024, 6, 10, 12, 26, 0, 0, time.UTC)

	entry := h.collector.RunOnce(context.Background(), now)

	l, err := h.runlog.Load(context.Background())
	if err != nil {
		t.Fatalf("runlog load: %v", err)
	}
	if len(l.Runs) != 1 || l.Runs[0].ID != entry.ID {
		t.Errorf("run log = %+v, want the run entry", l.Runs)
	}

	status := h.collector.Status()
	if status.Running {
		t.Error("Running = true after the run finished")
	}
	if status.LastRun == nil || status.LastRun.ID != entry.ID {
		t.Error("Status.LastRun not updated")
	}
	if status.Stations != 1 {
		t.Errorf("Stations = %d, want 1", status.Stations)
	}
}

// Persisted records are complete enough that the next run trusts them.
func TestRunOnceRecordsAreComplete(t *testing.T) {
	h := newHarness()
	now := time.Date(2024, 6, 10, 12, 26, 0, 0, time.UTC)
	h.collector.RunOnce(context.Background(), now)

	m, err := h.meta.Load(context.Background(), testStation, now)
	if err != nil || m == nil {
		t.Fatalf("metadata = (%v, %v)", m, err)
	}
	rec := m.Find(chunk.TenMin, "12:10:00")
	if rec == nil {
		t.Fatal("record missing")
	}
	if !rec.Complete(chunk.TenMin, testStation.SampleRate) {
		t.Errorf("record not complete: %+v", rec)
	}
	if rec.Samples != 600 {
		t.Errorf("Samples = %d, want 600", rec.Samples)
	}
}
