// Package collector schedules and executes collection runs: it decides
// which windows are due, fetches each window once, derives every nested
// chunk from that single fetch, and records run outcomes to the run log.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/derive"
	"github.com/chadmayfield/seismicd/internal/fetch"
	"github.com/chadmayfield/seismicd/internal/metadata"
	"github.com/chadmayfield/seismicd/internal/persist"
	"github.com/chadmayfield/seismicd/internal/runlog"
)

// Collector holds every dependency a collection run needs, constructed once
// at process start and threaded explicitly. No package-level state.
type Collector struct {
	source       fetch.Source
	persister    *persist.Persister
	meta         *metadata.Store
	runlog       *runlog.Store
	stations     []chunk.Station
	latencyDelay time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	lastRun *runlog.Entry
}

// New creates a Collector.
func New(source fetch.Source, persister *persist.Persister, meta *metadata.Store, rl *runlog.Store, stations []chunk.Station, latencyDelay time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		source:       source,
		persister:    persister,
		meta:         meta,
		runlog:       rl,
		stations:     stations,
		latencyDelay: latencyDelay,
		logger:       logger,
	}
}

// Status is a snapshot of collector state for the API.
type Status struct {
	Running  bool          `json:"running"`
	Stations int           `json:"stations"`
	LastRun  *runlog.Entry `json:"last_run,omitempty"`
}

// Status returns the current snapshot. The running flag lets validators
// avoid false "missing chunk" reports for windows still in flight.
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Running: c.running, Stations: len(c.stations), LastRun: c.lastRun}
}

func (c *Collector) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

// RunOnce executes one scheduled collection pass at the given wall-clock
// time. The largest due window is fetched once per station and every nested
// chunk derived from it; the smaller due windows are covered by that
// derivation and by the idempotent skip in persistence. Per-chunk failures
// never abort the run.
func (c *Collector) RunOnce(ctx context.Context, now time.Time) runlog.Entry {
	c.setRunning(true)
	defer c.setRunning(false)

	runStart := time.Now().UTC()
	stats := newRunStats()

	windows := DueWindows(now, c.latencyDelay)
	if len(windows) > 0 {
		top := windows[0]
		c.logger.Info("collection run starting",
			"window_type", top.Type.String(),
			"start", top.Start.Format(time.RFC3339),
			"end", top.End.Format(time.RFC3339),
			"stations", len(c.stations),
		)
		for _, st := range c.stations {
			if ctx.Err() != nil {
				break
			}
			c.collectWindow(ctx, st, top.Start, top.End, stats)
		}
	}

	entry := stats.entry(runStart, c.stations)
	c.runlog.Append(ctx, entry)

	c.mu.Lock()
	c.lastRun = &entry
	c.mu.Unlock()

	c.logger.Info("collection run finished",
		"tasks", entry.TotalTasks,
		"successful", entry.Successful,
		"skipped", entry.Skipped,
		"failed", entry.Failed,
		"files", entry.TotalFiles(),
		"duration", entry.DurationSeconds,
	)
	return entry
}

// Run ticks RunOnce on the collection cadence until the context ends.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(chunk.TenMin.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.RunOnce(ctx, now)
		}
	}
}

// collectWindow fetches [start, end) for one station and persists every
// nested chunk, largest to smallest. The fetch is skipped entirely when
// every nested record already exists and is complete.
func (c *Collector) collectWindow(ctx context.Context, st chunk.Station, start, end time.Time, stats *runStats) {
	windows := derive.Nested(start, end)
	if len(windows) == 0 {
		return
	}

	if c.windowComplete(ctx, st, windows) {
		stats.skipped += len(windows)
		stats.total += len(windows)
		c.logger.Debug("window already complete, skipping fetch",
			"station", st.Code(), "start", start.Format(time.RFC3339))
		return
	}

	res, err := fetch.Window(ctx, c.source, st, start, end)
	if err != nil {
		c.logger.Warn("fetch failed", "station", st.Code(),
			"start", start.Format(time.RFC3339), "error", err)
		for _, w := range windows {
			stats.fail(st, w, fetch.StepFetch, err)
		}
		return
	}

	for _, w := range windows {
		sub := derive.ExtractSubchunk(res.Samples, start, w.Start, w.End, st.SampleRate)
		outcome, err := c.persister.Persist(ctx, st, w.Type, w.Start, w.End, sub, res.Gaps)
		switch outcome {
		case persist.Success:
			stats.succeed(w)
		case persist.Skipped:
			stats.skipped++
			stats.total++
		case persist.Failed:
			stats.fail(st, w, "PERSIST", err)
		}
	}
}

// windowComplete reports whether every nested window already has a complete
// metadata record. Any load error counts as incomplete; the fetch path will
// surface real storage problems.
func (c *Collector) windowComplete(ctx context.Context, st chunk.Station, windows []derive.Window) bool {
	docs := map[string]*chunk.DayMetadata{}
	for _, w := range windows {
		dateKey := w.Start.UTC().Format(time.DateOnly)
		m, ok := docs[dateKey]
		if !ok {
			var err error
			m, err = c.meta.Load(ctx, st, w.Start)
			if err != nil {
				return false
			}
			docs[dateKey] = m
		}
		if m == nil {
			return false
		}
		rec := m.Find(w.Type, chunk.FormatTimeOfDay(w.Start))
		if rec == nil || !rec.Complete(w.Type, st.SampleRate) {
			return false
		}
	}
	return true
}

// runStats accumulates per-chunk outcomes across one run.
type runStats struct {
	filesCreated map[string]int
	total        int
	successful   int
	skipped      int
	failed       int
	failures     []runlog.Failure
}

func newRunStats() *runStats {
	return &runStats{filesCreated: map[string]int{}}
}

func (s *runStats) succeed(w derive.Window) {
	s.total++
	s.successful++
	s.filesCreated[w.Type.String()]++
}

func (s *runStats) fail(st chunk.Station, w derive.Window, step string, err error) {
	s.total++
	s.failed++
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.failures = append(s.failures, runlog.Failure{
		Station:   st.Code(),
		ChunkType: w.Type.String(),
		Start:     w.Start,
		End:       w.End,
		Step:      step,
		Error:     msg,
	})
}

func (s *runStats) entry(runStart time.Time, stations []chunk.Station) runlog.Entry {
	now := time.Now().UTC()
	codes := make([]string, len(stations))
	for i, st := range stations {
		codes[i] = st.Code()
	}
	return runlog.Entry{
		ID:              runlog.NewID(),
		StartTime:       runStart,
		EndTime:         now,
		DurationSeconds: now.Sub(runStart).Seconds(),
		Success:         s.failed == 0,
		Stations:        codes,
		FilesCreated:    s.filesCreated,
		TotalTasks:      s.total,
		Successful:      s.successful,
		Skipped:         s.skipped,
		Failed:          s.failed,
		FailureDetails:  s.failures,
	}
}
