// Package derive slices nested sub-chunks out of a single fetched window so
// one upstream call can produce every 6h/1h/10m chunk it covers.
package derive

import (
	"math"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/fetch"
)

// Window is one boundary-aligned chunk window to derive and persist.
type Window struct {
	Type  chunk.Type
	Start time.Time
	End   time.Time
}

// ExtractSubchunk slices [subStart, subEnd) out of the parent sample array
// by integer sample offsets and forces the slice to the exact expected
// length, holding the last value for any shortfall. Pure array operation:
// no metadata, no storage.
func ExtractSubchunk(parent []int32, parentStart, subStart, subEnd time.Time, sampleRate float64) []int32 {
	offset := roundSamples(subStart.Sub(parentStart), sampleRate)
	expected := roundSamples(subEnd.Sub(subStart), sampleRate)
	if expected <= 0 {
		return nil
	}

	out := make([]int32, 0, expected)
	if offset < 0 {
		offset = 0
	}
	if offset < len(parent) {
		limit := offset + expected
		if limit > len(parent) {
			limit = len(parent)
		}
		out = append(out, parent[offset:limit]...)
	}

	var last int32
	if len(out) > 0 {
		last = out[len(out)-1]
	}
	for len(out) < expected {
		out = append(out, last)
	}
	return out
}

// Stats computes min and max from the given slice. A chunk's advertised
// min/max must come from its own samples, never inherited from the parent
// window, or client-side normalization breaks.
func Stats(samples []int32) (min, max int32) {
	if len(samples) == 0 {
		return 0, 0
	}
	min, max = samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Nested enumerates every boundary-aligned chunk window fully contained in
// [start, end), largest-to-smallest: each 6h window first, then each 1h
// window followed immediately by its 10m windows. A full 6h block yields
// 1 six-hour, 6 one-hour, and 36 ten-minute windows; a partial window (a
// backfill remainder) yields only the windows that fit, including 10m
// windows at the edges not covered by a full hour.
func Nested(start, end time.Time) []Window {
	windows := windowsOf(chunk.SixHour, start, end)

	hours := windowsOf(chunk.OneHour, start, end)
	for _, hr := range hours {
		windows = append(windows, hr)
		windows = append(windows, windowsOf(chunk.TenMin, hr.Start, hr.End)...)
	}

	// Ten-minute windows at the edges, outside any full contained hour.
	for _, ten := range windowsOf(chunk.TenMin, start, end) {
		hs := chunk.OneHour.Quantize(ten.Start)
		if hs.Before(start) || hs.Add(chunk.OneHour.Duration()).After(end) {
			windows = append(windows, ten)
		}
	}
	return windows
}

// windowsOf lists the aligned windows of one type fully inside [start, end).
func windowsOf(t chunk.Type, start, end time.Time) []Window {
	dur := t.Duration()
	ws := t.Quantize(start)
	if ws.Before(start) {
		ws = ws.Add(dur)
	}
	var out []Window
	for ; !ws.Add(dur).After(end); ws = ws.Add(dur) {
		out = append(out, Window{Type: t, Start: ws, End: ws.Add(dur)})
	}
	return out
}

// GapsWithin attributes the parent fetch's gap list to a sub-window by
// overlap: the count of gaps touching the window and the number of filled
// samples falling inside it. Sub-chunks never re-run gap detection.
func GapsWithin(gaps []fetch.Gap, start, end time.Time, sampleRate float64) (count, samplesFilled int) {
	for _, g := range gaps {
		os := maxTime(g.Start, start)
		oe := minTime(g.End, end)
		if !oe.After(os) {
			continue
		}
		count++
		samplesFilled += roundSamples(oe.Sub(os), sampleRate)
	}
	return count, samplesFilled
}

func roundSamples(d time.Duration, rate float64) int {
	return int(math.Round(d.Seconds() * rate))
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
