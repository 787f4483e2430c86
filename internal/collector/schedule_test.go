package collector

import (
	"testing"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
)

func TestDueWindows(t *testing.T) {
	delay := 5 * time.Minute

	tests := []struct {
		name      string
		now       time.Time
		wantTypes []chunk.Type
		wantMark  time.Time
	}{
		{
			name:      "plain ten minute mark",
			now:       time.Date(2024, 6, 10, 12, 25, 30, 0, time.UTC),
			wantTypes: []chunk.Type{chunk.TenMin},
			wantMark:  time.Date(2024, 6, 10, 12, 20, 0, 0, time.UTC),
		},
		{
			name:      "hour boundary",
			now:       time.Date(2024, 6, 10, 14, 7, 0, 0, time.UTC),
			wantTypes: []chunk.Type{chunk.OneHour, chunk.TenMin},
			wantMark:  time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC),
		},
		{
			name:      "six hour boundary",
			now:       time.Date(2024, 6, 10, 18, 6, 0, 0, time.UTC),
			wantTypes: []chunk.Type{chunk.SixHour, chunk.OneHour, chunk.TenMin},
			wantMark:  time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC),
		},
		{
			name:      "midnight boundary",
			now:       time.Date(2024, 6, 11, 0, 9, 59, 0, time.UTC),
			wantTypes: []chunk.Type{chunk.SixHour, chunk.OneHour, chunk.TenMin},
			wantMark:  time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "delay pushes mark below the boundary",
			// 14:04 minus 5m is 13:59, quantizing to 13:50: the 14:00
			// hour window is not yet due.
			now:       time.Date(2024, 6, 10, 14, 4, 0, 0, time.UTC),
			wantTypes: []chunk.Type{chunk.TenMin},
			wantMark:  time.Date(2024, 6, 10, 13, 50, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		windows := DueWindows(tt.now, delay)
		if len(windows) != len(tt.wantTypes) {
			t.Errorf("%s: got %d windows, want %d", tt.name, len(windows), len(tt.wantTypes))
			continue
		}
		for i, w := range windows {
			if w.Type != tt.wantTypes[i] {
				t.Errorf("%s: windows[%d].Type = %v, want %v", tt.name, i, w.Type, tt.wantTypes[i])
			}
			if !w.End.Equal(tt.wantMark) {
				t.Errorf("%s: windows[%d].End = %v, want %v", tt.name, i, w.End, tt.wantMark)
			}
			if !w.Start.Equal(tt.wantMark.Add(-w.Type.Duration())) {
				t.Errorf("%s: windows[%d].Start = %v, want end minus duration", tt.name, i, w.Start)
			}
		}
	}
}

// Windows always end at the quantized mark, so the most recent partial
// period is never collected early.
func TestDueWindowsNeverFuture(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	for _, w := range DueWindows(now, 0) {
		if w.End.After(now) {
			t.Errorf("window %v ends after now", w)
		}
	}
}
