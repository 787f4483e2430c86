package chunk

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	locationPlaceholder = "--"

	// timestampLayout formats chunk boundary timestamps inside filenames.
	timestampLayout = "2006-01-02-15-04-05"

	// nameSep joins the fields of a chunk filename.
	nameSep = "_"

	// BinarySuffix marks a stored chunk as compressed binary samples.
	BinarySuffix = ".bin.zst"

	pathRoot = "chunks"
)

// ChunkFilename returns the canonical filename for a chunk binary:
// NET.STA.LOC.CHA_<type>_<start>_<end>.bin.zst
func ChunkFilename(s Station, t Type, start, end time.Time) string {
	return strings.Join([]string{
		s.Code(),
		t.String(),
		start.UTC().Format(timestampLayout),
		end.UTC().Format(timestampLayout),
	}, nameSep) + BinarySuffix
}

// LegacyChunkFilename returns the older filename variant that additionally
// embeds the sample rate between the chunk type and the start timestamp.
// It exists only as a read-time fallback; new chunks are never written
// under this name.
func LegacyChunkFilename(s Station, t Type, start, end time.Time) string {
	return strings.Join([]string{
		s.Code(),
		t.String(),
		strconv.FormatFloat(s.SampleRate, 'g', -1, 64) + "hz",
		start.UTC().Format(timestampLayout),
		end.UTC().Format(timestampLayout),
	}, nameSep) + BinarySuffix
}

// ChannelPrefix returns the channel-level directory for a station on a given
// UTC date. Chunk-type subdirectories and the metadata document live under it.
func ChannelPrefix(s Station, date time.Time) string {
	date = date.UTC()
	return strings.Join([]string{
		pathRoot,
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", int(date.Month())),
		fmt.Sprintf("%02d", date.Day()),
		s.Network,
		s.Volcano,
		s.Station,
		s.LocationToken(),
		s.Channel,
	}, "/")
}

// ChunkPath returns the full object key for a chunk binary. Chunks always
// file under the UTC date of their start time, even when the end crosses
// midnight.
func ChunkPath(s Station, t Type, start, end time.Time) string {
	return ChannelPrefix(s, start) + "/" + t.String() + "/" + ChunkFilename(s, t, start, end)
}

// LegacyChunkPath returns the object key for the legacy filename variant.
func LegacyChunkPath(s Station, t Type, start, end time.Time) string {
	return ChannelPrefix(s, start) + "/" + t.String() + "/" + LegacyChunkFilename(s, t, start, end)
}

// MetadataPath returns the object key of the per-station-per-day metadata
// document, one level above the chunk-type subdirectories.
func MetadataPath(s Station, date time.Time) string {
	return ChannelPrefix(s, date) + "/" + s.Code() + nameSep + date.UTC().Format(time.DateOnly) + ".json"
}

// ParsedChunk is the result of decoding a chunk filename.
type ParsedChunk struct {
	Network  string
	Station  string
	Location string // placeholder normalized back to ""
	Channel  string
	Type     Type
	Start    time.Time
	End      time.Time

	// SampleRate is populated only for legacy filenames; zero otherwise.
	SampleRate float64
	Legacy     bool
}

// ParseError reports a chunk filename that could not be decoded. Callers
// use errors.As to distinguish malformed names from other failures.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("chunk: cannot parse filename %q: %s", e.Name, e.Reason)
}

// ParseChunkFilename decodes a chunk filename (either variant) back into its
// components. It is the exact inverse of ChunkFilename/LegacyChunkFilename.
func ParseChunkFilename(name string) (ParsedChunk, error) {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if !strings.HasSuffix(base, BinarySuffix) {
		return ParsedChunk{}, &ParseError{Name: name, Reason: "missing " + BinarySuffix + " suffix"}
	}
	trimmed := strings.TrimSuffix(base, BinarySuffix)

	fields := strings.Split(trimmed, nameSep)
	if len(fields) != 4 && len(fields) != 5 {
		return ParsedChunk{}, &ParseError{Name: name, Reason: fmt.Sprintf("expected 4 or 5 fields, got %d", len(fields))}
	}

	id := strings.Split(fields[0], ".")
	if len(id) != 4 {
		return ParsedChunk{}, &ParseError{Name: name, Reason: "station identity is not NET.STA.LOC.CHA"}
	}

	t, err := ParseType(fields[1])
	if err != nil {
		return ParsedChunk{}, &ParseError{Name: name, Reason: err.Error()}
	}

	p := ParsedChunk{
		Network:  id[0],
		Station:  id[1],
		Location: id[2],
		Channel:  id[3],
		Type:     t,
	}
	if p.Location == locationPlaceholder {
		p.Location = ""
	}

	tsFields := fields[2:]
	if len(fields) == 5 {
		rateTok := fields[2]
		if !strings.HasSuffix(rateTok, "hz") {
			return ParsedChunk{}, &ParseError{Name: name, Reason: "five fields but third is not a sample rate"}
		}
		rate, err := strconv.ParseFloat(strings.TrimSuffix(rateTok, "hz"), 64)
		if err != nil {
			return ParsedChunk{}, &ParseError{Name: name, Reason: "bad sample rate: " + err.Error()}
		}
		p.SampleRate = rate
		p.Legacy = true
		tsFields = fields[3:]
	}

	p.Start, err = time.ParseInLocation(timestampLayout, tsFields[0], time.UTC)
	if err != nil {
		return ParsedChunk{}, &ParseError{Name: name, Reason: "bad start timestamp: " + err.Error()}
	}
	p.End, err = time.ParseInLocation(timestampLayout, tsFields[1], time.UTC)
	if err != nil {
		return ParsedChunk{}, &ParseError{Name: name, Reason: "bad end timestamp: " + err.Error()}
	}
	return p, nil
}

// existsFunc checks whether an object key exists. It matches the Exists
// method of the storage adapter so the codec stays free of a storage import.
type existsFunc func(ctx context.Context, key string) (bool, error)

// ResolveExisting finds the stored binary for a chunk, trying the current
// filename first and the legacy with-rate filename second. It is the single
// place in the codebase that knows about the legacy fallback.
func ResolveExisting(ctx context.Context, exists existsFunc, s Station, t Type, start, end time.Time) (string, bool, error) {
	key := ChunkPath(s, t, start, end)
	ok, err := exists(ctx, key)
	if err != nil {
		return "", false, err
	}
	if ok {
		return key, true, nil
	}
	legacy := LegacyChunkPath(s, t, start, end)
	ok, err = exists(ctx, legacy)
	if err != nil {
		return "", false, err
	}
	if ok {
		return legacy, true, nil
	}
	return "", false, nil
}
