// Package audit reconciles the metadata index against the objects actually
// in storage: missing binaries, orphaned binaries, and duplicate records.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/metadata"
	"github.com/chadmayfield/seismicd/internal/persist"
	"github.com/chadmayfield/seismicd/internal/storage"
)

// Orphan adoption accepts a binary only if its size sits inside this band of
// the raw sample payload, the observed compression range for this codec and
// signal entropy.
const (
	minCompressionRatio = 0.25
	maxCompressionRatio = 0.65
)

// Report is the outcome of one audit pass over a station and time range.
type Report struct {
	// Missing lists object keys that metadata claims exist but storage
	// does not have: data loss or a failed upload.
	Missing []string

	// Orphaned lists stored keys with no metadata record: an un-indexed
	// write, typically a crash between binary upload and metadata save.
	Orphaned []string

	// Duplicates lists chunk-type lists containing repeated start values.
	Duplicates []Duplicate
}

// Duplicate identifies repeated starts within one chunk-type list.
type Duplicate struct {
	Date  string
	Type  chunk.Type
	Start string
	Count int
}

// RepairResult summarizes what a repair pass changed.
type RepairResult struct {
	Adopted        int
	RejectedOrphan int
	PrunedMissing  int
	Deduplicated   int
}

// Auditor compares metadata with storage and repairs drift.
type Auditor struct {
	objects storage.Store
	meta    *metadata.Store
	logger  *slog.Logger
}

// New creates an Auditor.
func New(objects storage.Store, meta *metadata.Store, logger *slog.Logger) *Auditor {
	return &Auditor{objects: objects, meta: meta, logger: logger}
}

// Audit inspects every UTC date touched by [from, to] for the station.
func (a *Auditor) Audit(ctx context.Context, st chunk.Station, from, to time.Time) (*Report, error) {
	report := &Report{}
	for _, date := range datesTouched(from, to) {
		if err := a.auditDay(ctx, st, date, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (a *Auditor) auditDay(ctx context.Context, st chunk.Station, date time.Time, report *Report) error {
	m, err := a.meta.Load(ctx, st, date)
	if err != nil {
		return err
	}

	actual, err := a.listChunks(ctx, st, date)
	if err != nil {
		return err
	}

	implied := map[string]bool{}
	if m != nil {
		for _, t := range chunk.Types {
			starts := map[string]int{}
			for _, rec := range m.Chunks[t.String()] {
				starts[rec.Start]++
				current, legacy, err := recordKeys(st, t, date, rec)
				if err != nil {
					a.logger.Warn("record with unparseable start, skipping",
						"station", st.Code(), "date", m.Date, "start", rec.Start)
					continue
				}
				implied[current] = true
				implied[legacy] = true
				if !actual[current] && !actual[legacy] {
					report.Missing = append(report.Missing, current)
				}
			}
			for start, n := range starts {
				if n > 1 {
					report.Duplicates = append(report.Duplicates, Duplicate{
						Date:  m.Date,
						Type:  t,
						Start: start,
						Count: n,
					})
				}
			}
		}
	}

	for key := range actual {
		if !implied[key] {
			report.Orphaned = append(report.Orphaned, key)
		}
	}
	return nil
}

// Repair fixes what Audit found: prunes records whose binaries are missing
// (forcing a re-fetch on the next due pass), dedupes repeated starts keeping
// the first, and adopts plausible orphans into metadata. Rejected orphans
// stay in storage untouched, pending manual review.
func (a *Auditor) Repair(ctx context.Context, st chunk.Station, from, to time.Time) (*RepairResult, error) {
	result := &RepairResult{}
	for _, date := range datesTouched(from, to) {
		if err := a.repairDay(ctx, st, date, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (a *Auditor) repairDay(ctx context.Context, st chunk.Station, date time.Time, result *RepairResult) error {
	report := &Report{}
	if err := a.auditDay(ctx, st, date, report); err != nil {
		return err
	}
	if len(report.Missing) == 0 && len(report.Orphaned) == 0 && len(report.Duplicates) == 0 {
		return nil
	}

	m, err := a.meta.Load(ctx, st, date)
	if err != nil {
		return err
	}
	if m == nil {
		m = chunk.NewDayMetadata(st, date)
	}
	dirty := false

	if n := m.Dedupe(); n > 0 {
		result.Deduplicated += n
		dirty = true
	}

	for _, key := range report.Missing {
		parsed, err := chunk.ParseChunkFilename(key)
		if err != nil {
			continue
		}
		if m.Remove(parsed.Type, chunk.FormatTimeOfDay(parsed.Start)) {
			a.logger.Warn("pruned metadata record with missing binary", "key", key)
			result.PrunedMissing++
			dirty = true
		}
	}

	sizes, err := a.chunkSizes(ctx, st, date)
	if err != nil {
		return err
	}
	for _, key := range report.Orphaned {
		if a.adoptOrphan(st, m, key, sizes[key]) {
			result.Adopted++
			dirty = true
		} else {
			result.RejectedOrphan++
		}
	}

	if dirty {
		if err := a.meta.Save(ctx, st, date, m); err != nil {
			return err
		}
	}
	return nil
}

// adoptOrphan validates an orphaned binary by filename and size, then
// synthesizes a metadata record for it. Min, max, and gap counts are
// recorded as zero: the adoption path never decompresses the binary.
func (a *Auditor) adoptOrphan(st chunk.Station, m *chunk.DayMetadata, key string, size int64) bool {
	parsed, err := chunk.ParseChunkFilename(key)
	if err != nil {
		a.logger.Warn("rejected orphan, undecodable filename", "key", key, "error", err)
		return false
	}

	expected := chunk.ExpectedSamples(parsed.Type, st.SampleRate)
	raw := float64(expected * persist.BytesPerSample)
	if float64(size) < minCompressionRatio*raw || float64(size) > maxCompressionRatio*raw {
		a.logger.Warn("rejected orphan, unexpected size",
			"key", key, "size", size, "expected_raw", int64(raw))
		return false
	}

	startStr := chunk.FormatTimeOfDay(parsed.Start)
	if m.Find(parsed.Type, startStr) != nil {
		return false
	}
	m.Insert(parsed.Type, chunk.Record{
		Start:   startStr,
		End:     chunk.FormatTimeOfDay(parsed.End),
		Samples: expected,
	})
	a.logger.Info("adopted orphaned chunk", "key", key, "type", parsed.Type.String(), "start", startStr)
	return true
}

// listChunks returns the set of chunk binaries stored for a station-day.
func (a *Auditor) listChunks(ctx context.Context, st chunk.Station, date time.Time) (map[string]bool, error) {
	sizes, err := a.chunkSizes(ctx, st, date)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(sizes))
	for key := range sizes {
		keys[key] = true
	}
	return keys, nil
}

func (a *Auditor) chunkSizes(ctx context.Context, st chunk.Station, date time.Time) (map[string]int64, error) {
	prefix := chunk.ChannelPrefix(st, date) + "/"
	infos, err := a.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing chunks under %s: %w", prefix, err)
	}
	sizes := map[string]int64{}
	for _, info := range infos {
		// Metadata documents and other non-chunk objects share the prefix.
		if _, err := chunk.ParseChunkFilename(info.Key); err != nil {
			continue
		}
		sizes[info.Key] = info.Size
	}
	return sizes, nil
}

// recordKeys derives the current and legacy object keys implied by a record.
func recordKeys(st chunk.Station, t chunk.Type, date time.Time, rec chunk.Record) (string, string, error) {
	start, err := timeOnDate(date, rec.Start)
	if err != nil {
		return "", "", err
	}
	end := start.Add(t.Duration())
	return chunk.ChunkPath(st, t, start, end), chunk.LegacyChunkPath(st, t, start, end), nil
}

func timeOnDate(date time.Time, hhmmss string) (time.Time, error) {
	tod, err := time.Parse("15:04:05", hhmmss)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad record start %q: %w", hhmmss, err)
	}
	date = date.UTC()
	return time.Date(date.Year(), date.Month(), date.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC), nil
}

// datesTouched lists each UTC calendar date in [from, to].
func datesTouched(from, to time.Time) []time.Time {
	from = from.UTC()
	to = to.UTC()
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	var dates []time.Time
	for !day.After(to) {
		dates = append(dates, day)
		day = day.AddDate(0, 0, 1)
	}
	return dates
}
