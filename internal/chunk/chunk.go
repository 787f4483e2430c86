// Package chunk defines the chunk type system, boundary math, path codec,
// and per-station-per-day metadata documents shared by every other component.
package chunk

import (
	"fmt"
	"math"
	"time"
)

// Type identifies one of the three fixed chunk durations.
type Type int

const (
	TenMin Type = iota
	OneHour
	SixHour
)

// Types lists all chunk types largest-first, the order in which nested
// chunks are derived and persisted.
var Types = []Type{SixHour, OneHour, TenMin}

// Duration returns the nominal duration of the chunk type.
func (t Type) Duration() time.Duration {
	switch t {
	case TenMin:
		return 10 * time.Minute
	case OneHour:
		return time.Hour
	case SixHour:
		return 6 * time.Hour
	}
	return 0
}

// String returns the path token for the chunk type ("10min", "1hour", "6hour").
func (t Type) String() string {
	switch t {
	case TenMin:
		return "10min"
	case OneHour:
		return "1hour"
	case SixHour:
		return "6hour"
	}
	return "unknown"
}

// ParseType parses a path token back into a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "10min":
		return TenMin, nil
	case "1hour":
		return OneHour, nil
	case "6hour":
		return SixHour, nil
	}
	return 0, fmt.Errorf("chunk: unknown chunk type %q", s)
}

// Aligned reports whether ts falls on a valid start boundary for the chunk
// type within its UTC day: 10min chunks on 10-minute marks, 1hour chunks on
// the hour, 6hour chunks at 00/06/12/18.
func (t Type) Aligned(ts time.Time) bool {
	ts = ts.UTC()
	if ts.Second() != 0 || ts.Nanosecond() != 0 {
		return false
	}
	switch t {
	case TenMin:
		return ts.Minute()%10 == 0
	case OneHour:
		return ts.Minute() == 0
	case SixHour:
		return ts.Minute() == 0 && ts.Hour()%6 == 0
	}
	return false
}

// Quantize floors ts to the nearest earlier start boundary for the chunk type.
func (t Type) Quantize(ts time.Time) time.Time {
	ts = ts.UTC()
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	offset := ts.Sub(day)
	return day.Add(offset.Truncate(t.Duration()))
}

// ExpectedSamples returns the exact sample count a complete chunk of this
// type must contain at the given sample rate.
func ExpectedSamples(t Type, sampleRate float64) int {
	return int(math.Round(t.Duration().Seconds() * sampleRate))
}

// Station is the immutable identity of a channel being collected, plus the
// volcano grouping tag and sample rate from configuration.
type Station struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	Volcano    string
	SampleRate float64
}

// Code returns the dotted NET.STA.LOC.CHA form used in logs and filenames.
// An empty location is rendered as the "--" placeholder.
func (s Station) Code() string {
	return fmt.Sprintf("%s.%s.%s.%s", s.Network, s.Station, s.LocationToken(), s.Channel)
}

// LocationToken normalizes the empty location code to the "--" placeholder
// used in paths and filenames.
func (s Station) LocationToken() string {
	if s.Location == "" {
		return locationPlaceholder
	}
	return s.Location
}
