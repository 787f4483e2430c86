package chunk

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// completeDayChunks is the number of 10-minute chunks in a full UTC day.
const completeDayChunks = 144

// timeOfDayLayout formats chunk start/end times inside metadata records.
const timeOfDayLayout = "15:04:05"

// Record describes one collected chunk within a day's metadata document.
type Record struct {
	Start            string `json:"start"` // "HH:MM:SS" within the UTC day
	End              string `json:"end"`
	Min              int32  `json:"min"`
	Max              int32  `json:"max"`
	Samples          int    `json:"samples"`
	GapCount         int    `json:"gap_count"`
	GapSamplesFilled int    `json:"gap_samples_filled"`
}

// corrupted reports a record that is missing its end time or sample count,
// the signature of a partially written or hand-edited document. Corrupted
// records are dropped at decode time and never seen downstream.
func (r Record) corrupted() bool {
	return r.End == "" || r.Samples <= 0
}

// Complete reports whether the record represents a full, trustworthy chunk:
// its end string must match the boundary-derived end exactly and its sample
// count must be within 1% of the expected count. An end mismatch alone
// forces a re-fetch even though a record nominally exists.
func (r Record) Complete(t Type, sampleRate float64) bool {
	start, err := time.Parse(timeOfDayLayout, r.Start)
	if err != nil {
		return false
	}
	if r.End != FormatTimeOfDay(start.Add(t.Duration())) {
		return false
	}
	expected := ExpectedSamples(t, sampleRate)
	if expected == 0 {
		return false
	}
	return math.Abs(float64(r.Samples-expected)) <= 0.01*float64(expected)
}

// FormatTimeOfDay renders a timestamp as the "HH:MM:SS" form used by
// metadata records. Midnight at the end of a day renders as "00:00:00".
func FormatTimeOfDay(ts time.Time) string {
	return ts.UTC().Format(timeOfDayLayout)
}

// DayMetadata is the per-station-per-UTC-day index of collected chunks.
type DayMetadata struct {
	Date        string              `json:"date"` // "YYYY-MM-DD"
	Network     string              `json:"network"`
	Volcano     string              `json:"volcano"`
	Station     string              `json:"station"`
	Location    string              `json:"location"`
	Channel     string              `json:"channel"`
	SampleRate  float64             `json:"sample_rate"`
	CreatedAt   string              `json:"created_at"`
	CompleteDay bool                `json:"complete_day"`
	Chunks      map[string][]Record `json:"chunks"` // keyed by Type.String()
}

// NewDayMetadata creates an empty metadata document for a station-day.
func NewDayMetadata(s Station, date time.Time) *DayMetadata {
	return &DayMetadata{
		Date:       date.UTC().Format(time.DateOnly),
		Network:    s.Network,
		Volcano:    s.Volcano,
		Station:    s.Station,
		Location:   s.LocationToken(),
		Channel:    s.Channel,
		SampleRate: s.SampleRate,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Chunks: map[string][]Record{
			TenMin.String():  {},
			OneHour.String(): {},
			SixHour.String(): {},
		},
	}
}

// DecodeDayMetadata parses and validates a stored metadata document. Records
// missing end or samples are dropped; the count of dropped records is
// returned so the caller can log it. Once decoded, every record in the
// document satisfies the Record invariants.
func DecodeDayMetadata(data []byte) (*DayMetadata, int, error) {
	var m DayMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, 0, fmt.Errorf("chunk: decoding day metadata: %w", err)
	}
	if m.Chunks == nil {
		m.Chunks = map[string][]Record{}
	}
	dropped := 0
	for key, list := range m.Chunks {
		kept := list[:0]
		for _, rec := range list {
			if rec.corrupted() {
				dropped++
				continue
			}
			kept = append(kept, rec)
		}
		m.Chunks[key] = kept
	}
	for _, t := range Types {
		if m.Chunks[t.String()] == nil {
			m.Chunks[t.String()] = []Record{}
		}
	}
	return &m, dropped, nil
}

// Encode renders the document as the human-indented JSON stored alongside
// the chunk binaries.
func (m *DayMetadata) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Find returns the record with the given start time for the chunk type, or
// nil if none exists.
func (m *DayMetadata) Find(t Type, start string) *Record {
	for i := range m.Chunks[t.String()] {
		if m.Chunks[t.String()][i].Start == start {
			return &m.Chunks[t.String()][i]
		}
	}
	return nil
}

// Insert appends a record to the chunk-type list, keeping the list sorted
// ascending by start and recomputing the complete-day flag. Inserting a
// start that already exists is a caller bug; the duplicate is ignored to
// preserve the uniqueness invariant.
func (m *DayMetadata) Insert(t Type, rec Record) {
	if m.Find(t, rec.Start) != nil {
		return
	}
	key := t.String()
	m.Chunks[key] = append(m.Chunks[key], rec)
	m.sortList(key)
	m.recomputeCompleteDay()
}

// Remove deletes the record with the given start time, if present, and
// recomputes the complete-day flag.
func (m *DayMetadata) Remove(t Type, start string) bool {
	key := t.String()
	for i, rec := range m.Chunks[key] {
		if rec.Start == start {
			m.Chunks[key] = append(m.Chunks[key][:i], m.Chunks[key][i+1:]...)
			m.recomputeCompleteDay()
			return true
		}
	}
	return false
}

// Dedupe removes records sharing a start time, keeping the first occurrence
// in list order, then re-sorts. Returns the number of records discarded.
func (m *DayMetadata) Dedupe() int {
	removed := 0
	for key, list := range m.Chunks {
		seen := make(map[string]bool, len(list))
		kept := list[:0]
		for _, rec := range list {
			if seen[rec.Start] {
				removed++
				continue
			}
			seen[rec.Start] = true
			kept = append(kept, rec)
		}
		m.Chunks[key] = kept
		m.sortList(key)
	}
	if removed > 0 {
		m.recomputeCompleteDay()
	}
	return removed
}

func (m *DayMetadata) sortList(key string) {
	sort.Slice(m.Chunks[key], func(i, j int) bool {
		return m.Chunks[key][i].Start < m.Chunks[key][j].Start
	})
}

func (m *DayMetadata) recomputeCompleteDay() {
	m.CompleteDay = len(m.Chunks[TenMin.String()]) >= completeDayChunks
}
