// Package persist writes chunk binaries and their metadata records with an
// idempotent skip-if-exists protocol that tolerates concurrent collectors.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/derive"
	"github.com/chadmayfield/seismicd/internal/fetch"
	"github.com/chadmayfield/seismicd/internal/metadata"
	"github.com/chadmayfield/seismicd/internal/storage"
)

// Outcome classifies one Persist call.
type Outcome int

const (
	Success Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Persister writes chunks to object storage and their records to the
// station-day metadata document.
type Persister struct {
	objects storage.Store
	meta    *metadata.Store
	logger  *slog.Logger
}

// New creates a Persister.
func New(objects storage.Store, meta *metadata.Store, logger *slog.Logger) *Persister {
	return &Persister{objects: objects, meta: meta, logger: logger}
}

// Persist writes one chunk. The protocol against concurrent collectors:
//
//  1. Load metadata and skip if a record with this start already exists.
//  2. Compute min/max from the samples and compress them.
//  3. Re-load metadata and re-check immediately before the binary write; a
//     concurrent writer may have finished between steps 1 and 2.
//  4. Upload the binary at the canonical path.
//  5. Re-load metadata once more, append the record, re-sort, and save.
//
// A metadata-save failure after a successful upload is returned as an error
// but the binary is left in place: an orphan is recoverable by audit/repair,
// a lost upload is not.
func (p *Persister) Persist(ctx context.Context, st chunk.Station, t chunk.Type, start, end time.Time, samples []int32, gaps []fetch.Gap) (Outcome, error) {
	startStr := chunk.FormatTimeOfDay(start)

	m, err := p.meta.Load(ctx, st, start)
	if err != nil {
		return Failed, err
	}
	if m != nil && m.Find(t, startStr) != nil {
		return Skipped, nil
	}

	min, max := derive.Stats(samples)
	gapCount, gapFilled := derive.GapsWithin(gaps, start, end, st.SampleRate)
	blob := Encode(samples)

	// Re-check: a concurrent writer may have completed since the first load.
	m, err = p.meta.Load(ctx, st, start)
	if err != nil {
		return Failed, err
	}
	if m != nil && m.Find(t, startStr) != nil {
		p.logger.Debug("chunk persisted by concurrent writer, skipping upload",
			"station", st.Code(), "type", t.String(), "start", startStr)
		return Skipped, nil
	}

	key := chunk.ChunkPath(st, t, start, end)
	if err := p.objects.Put(ctx, key, blob); err != nil {
		return Failed, fmt.Errorf("uploading chunk %s: %w", key, err)
	}

	// Load the freshest state again before appending, so records written by
	// a concurrent process in the interim are not clobbered.
	m, err = p.meta.Load(ctx, st, start)
	if err != nil {
		return Failed, err
	}
	if m == nil {
		m = chunk.NewDayMetadata(st, start)
	}
	if m.Find(t, startStr) != nil {
		return Skipped, nil
	}

	m.Insert(t, chunk.Record{
		Start:            startStr,
		End:              chunk.FormatTimeOfDay(end),
		Min:              min,
		Max:              max,
		Samples:          len(samples),
		GapCount:         gapCount,
		GapSamplesFilled: gapFilled,
	})
	if err := p.meta.Save(ctx, st, start, m); err != nil {
		return Failed, fmt.Errorf("saving metadata after uploading %s: %w", key, err)
	}

	p.logger.Info("persisted chunk",
		"station", st.Code(),
		"type", t.String(),
		"start", start.Format(time.RFC3339),
		"samples", len(samples),
		"bytes", len(blob),
	)
	return Success, nil
}
