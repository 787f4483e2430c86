// Package fetch retrieves raw waveform windows from the upstream source and
// normalizes them: internal gaps interpolated, leading gaps zero-padded, and
// the result forced to the exact expected sample count for the window.
package fetch

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
)

// StepFetch tags fetch-boundary failures in run-log failure details.
const StepFetch = "IRIS_FETCH"

// Gap fill modes. Internal gaps are interpolated between the surrounding
// samples; a leading gap (upstream dropped the front of the window) is
// zero-padded and flagged distinctly.
const (
	FillInterpolated = "interpolated"
	FillZero         = "zero"
)

// Trace is one contiguous fragment of samples returned by the upstream
// source. A window with gaps comes back as multiple traces.
type Trace struct {
	Start   time.Time
	Samples []int32
}

// Source is the upstream waveform service. Implementations return the raw
// trace fragments for a closed-open window; merging and gap handling happen
// here, not in the source.
type Source interface {
	Traces(ctx context.Context, st chunk.Station, start, end time.Time) ([]Trace, error)
}

// Gap records a sub-interval of the requested window that had no upstream
// samples and how it was filled.
type Gap struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	SamplesFilled int       `json:"samples_filled"`
	Fill          string    `json:"fill"`
}

// Result is a fully normalized window: exactly
// round(window_seconds * sample_rate) samples, plus the gap list.
type Result struct {
	Samples []int32
	Gaps    []Gap
}

// Error is the typed failure returned for any upstream problem. It never
// escapes as a bare transport error; callers decide retry/skip policy.
type Error struct {
	Step    string
	Station string
	Start   time.Time
	End     time.Time
	NoData  bool
	Cause   error
}

func (e *Error) Error() string {
	window := fmt.Sprintf("%s [%s, %s)", e.Station,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	if e.NoData {
		return fmt.Sprintf("%s: no data available for %s", e.Step, window)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, window, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Window fetches [start, end) for the station and returns a normalized
// sample array. The returned length is always exactly
// round((end-start).Seconds() * sample_rate); callers must rely on that
// invariant and never recompute counts from trace metadata.
func Window(ctx context.Context, src Source, st chunk.Station, start, end time.Time) (*Result, error) {
	rate := st.SampleRate
	traces, err := src.Traces(ctx, st, start, end)
	if err != nil {
		return nil, &Error{Step: StepFetch, Station: st.Code(), Start: start, End: end, Cause: err}
	}
	total := 0
	for _, tr := range traces {
		total += len(tr.Samples)
	}
	if total == 0 {
		return nil, &Error{Step: StepFetch, Station: st.Code(), Start: start, End: end, NoData: true}
	}

	sort.Slice(traces, func(i, j int) bool { return traces[i].Start.Before(traces[j].Start) })

	// Trim any samples the upstream returned from before the requested
	// start. A trace can lie entirely pre-window, leaving it empty.
	for i := range traces {
		tr := traces[i]
		if !tr.Start.Before(start) {
			break
		}
		drop := roundSamples(start.Sub(tr.Start), rate)
		if drop >= len(tr.Samples) {
			tr.Samples = nil
		} else {
			tr.Samples = tr.Samples[drop:]
		}
		tr.Start = start
		traces[i] = tr
	}

	// Every usable sample can fall outside the window when the upstream
	// returns only pre-window data.
	first := -1
	for i, tr := range traces {
		if len(tr.Samples) > 0 {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, &Error{Step: StepFetch, Station: st.Code(), Start: start, End: end, NoData: true}
	}

	expected := roundSamples(end.Sub(start), rate)
	samples := make([]int32, 0, expected)
	var gaps []Gap

	// Leading gap: upstream dropped the front of the window. Zero-padded,
	// unlike internal gaps, and flagged as such. The check is against the
	// first trace that still has samples, not the first returned trace.
	if lead := traces[first].Start; lead.After(start) {
		n := roundSamples(lead.Sub(start), rate)
		if n > 0 {
			samples = append(samples, make([]int32, n)...)
			gaps = append(gaps, Gap{Start: start, End: lead, SamplesFilled: n, Fill: FillZero})
		}
	}

	cursor := traces[first].Start
	for _, tr := range traces[first:] {
		if len(tr.Samples) == 0 {
			continue
		}
		if tr.Start.After(cursor) && len(samples) > 0 {
			// Internal gap: interpolate between the last merged sample and
			// the first sample of this trace.
			n := roundSamples(tr.Start.Sub(cursor), rate)
			if n > 0 {
				from := samples[len(samples)-1]
				to := tr.Samples[0]
				samples = append(samples, interpolate(from, to, n)...)
				gaps = append(gaps, Gap{Start: cursor, End: tr.Start, SamplesFilled: n, Fill: FillInterpolated})
			}
		} else if tr.Start.Before(cursor) {
			// Overlap: drop the overlapping front of the later trace.
			drop := roundSamples(cursor.Sub(tr.Start), rate)
			if drop >= len(tr.Samples) {
				continue
			}
			tr.Samples = tr.Samples[drop:]
			tr.Start = cursor
		}
		samples = append(samples, tr.Samples...)
		cursor = tr.Start.Add(sampleDuration(len(tr.Samples), rate))
	}

	// Force the exact expected length: truncate overlong results, pad short
	// ones by holding the last sample value.
	if len(samples) > expected {
		samples = samples[:expected]
	} else if len(samples) < expected {
		last := samples[len(samples)-1]
		for len(samples) < expected {
			samples = append(samples, last)
		}
	}

	return &Result{Samples: samples, Gaps: gaps}, nil
}

// interpolate produces n values linearly spaced strictly between from and to.
func interpolate(from, to int32, n int) []int32 {
	out := make([]int32, n)
	span := float64(to) - float64(from)
	for i := 0; i < n; i++ {
		frac := float64(i+1) / float64(n+1)
		out[i] = int32(math.Round(float64(from) + span*frac))
	}
	return out
}

func roundSamples(d time.Duration, rate float64) int {
	return int(math.Round(d.Seconds() * rate))
}

func sampleDuration(n int, rate float64) time.Duration {
	return time.Duration(float64(n) / rate * float64(time.Second))
}
