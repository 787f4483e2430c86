package collector

import (
	"context"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/runlog"
)

// Backfill collects past windows to the given depth. The target boundary is
// bootstrapped from the newest run-log entry that produced files — never
// from a storage scan — then the remainder between the covering 6h boundary
// and the target is fetched as one request, and complete 6h blocks are
// walked backwards until the depth is covered. Each block is a single
// upstream call yielding its 6h, 1h, and 10m chunks, so upstream call count
// stays near 1 + depth_hours/6 per station.
func (c *Collector) Backfill(ctx context.Context, depth time.Duration) (runlog.Entry, error) {
	c.setRunning(true)
	defer c.setRunning(false)

	runStart := time.Now().UTC()
	stats := newRunStats()

	target, err := c.backfillTarget(ctx)
	if err != nil {
		return runlog.Entry{}, err
	}

	blockStart := chunk.SixHour.Quantize(target)
	c.logger.Info("backfill starting",
		"target", target.Format(time.RFC3339),
		"depth", depth.String(),
		"stations", len(c.stations),
	)

	// Remainder between the covering 6h boundary and the target.
	if blockStart.Before(target) {
		for _, st := range c.stations {
			if ctx.Err() != nil {
				return stats.entry(runStart, c.stations), ctx.Err()
			}
			c.collectWindow(ctx, st, blockStart, target, stats)
		}
	}

	// Walk complete 6h blocks backwards.
	covered := target.Sub(blockStart)
	blockEnd := blockStart
	for covered < depth {
		if ctx.Err() != nil {
			return stats.entry(runStart, c.stations), ctx.Err()
		}
		start := blockEnd.Add(-chunk.SixHour.Duration())
		for _, st := range c.stations {
			c.collectWindow(ctx, st, start, blockEnd, stats)
		}
		blockEnd = start
		covered += chunk.SixHour.Duration()
	}

	entry := stats.entry(runStart, c.stations)
	c.runlog.Append(ctx, entry)

	c.mu.Lock()
	c.lastRun = &entry
	c.mu.Unlock()

	c.logger.Info("backfill finished",
		"tasks", entry.TotalTasks,
		"successful", entry.Successful,
		"skipped", entry.Skipped,
		"failed", entry.Failed,
		"files", entry.TotalFiles(),
	)
	return entry, nil
}

// backfillTarget derives the most recent collectable boundary: the start of
// the newest productive run quantized to 10 minutes, or now minus the
// latency delay when no productive run is on record.
func (c *Collector) backfillTarget(ctx context.Context) (time.Time, error) {
	last, err := c.runlog.LastProductive(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return chunk.TenMin.Quantize(last.StartTime.Add(-c.latencyDelay)), nil
	}
	return chunk.TenMin.Quantize(time.Now().UTC().Add(-c.latencyDelay)), nil
}
