// Package metadata loads and saves the per-station-per-day chunk index
// documents kept in object storage.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/storage"
)

// Store reads and writes DayMetadata documents. Callers follow a strict
// load-mutate-save discipline; Save always overwrites the whole document.
type Store struct {
	objects storage.Store
	logger  *slog.Logger
}

// NewStore wraps an object store.
func NewStore(objects storage.Store, logger *slog.Logger) *Store {
	return &Store{objects: objects, logger: logger}
}

// Load fetches the metadata document for a station-day. An absent document
// returns (nil, nil); that is the normal state before the first chunk of the
// day is persisted. Corrupted records are filtered out by the decoder and
// the drop count logged.
func (s *Store) Load(ctx context.Context, st chunk.Station, date time.Time) (*chunk.DayMetadata, error) {
	key := chunk.MetadataPath(st, date)
	data, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading metadata %s: %w", key, err)
	}
	m, dropped, err := chunk.DecodeDayMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("loading metadata %s: %w", key, err)
	}
	if dropped > 0 {
		s.logger.Warn("dropped corrupted metadata records",
			"station", st.Code(),
			"date", m.Date,
			"dropped", dropped,
		)
	}
	return m, nil
}

// Save writes the full document, overwriting any previous version.
func (s *Store) Save(ctx context.Context, st chunk.Station, date time.Time, m *chunk.DayMetadata) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	key := chunk.MetadataPath(st, date)
	if err := s.objects.Put(ctx, key, data); err != nil {
		return fmt.Errorf("saving metadata %s: %w", key, err)
	}
	return nil
}
