package collector

import (
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/derive"
)

// DueWindows determines which chunk windows are due at the given wall-clock
// time, largest type first. The latency delay is subtracted before
// quantizing down to the 10-minute mark, so a window only becomes due once
// the upstream has had time to assemble its samples.
//
// On a 10-minute cadence this yields 1-3 windows per invocation: the 10m
// window always, the 1h window on hour boundaries, and the 6h window at
// 00/06/12/18 UTC. The larger windows fully cover the smaller ones, so a
// caller only needs to process the first entry.
func DueWindows(now time.Time, latencyDelay time.Duration) []derive.Window {
	mark := chunk.TenMin.Quantize(now.UTC().Add(-latencyDelay))

	var windows []derive.Window
	if chunk.SixHour.Aligned(mark) {
		windows = append(windows, derive.Window{
			Type:  chunk.SixHour,
			Start: mark.Add(-chunk.SixHour.Duration()),
			End:   mark,
		})
	}
	if chunk.OneHour.Aligned(mark) {
		windows = append(windows, derive.Window{
			Type:  chunk.OneHour,
			Start: mark.Add(-chunk.OneHour.Duration()),
			End:   mark,
		})
	}
	windows = append(windows, derive.Window{
		Type:  chunk.TenMin,
		Start: mark.Add(-chunk.TenMin.Duration()),
		End:   mark,
	})
	return windows
}
