// Package memory provides an in-memory implementation of repository.Store used
// for tests and ephemeral environments.
//
// Records live in maps keyed by surrogate ID, with secondary indexes enforcing
// the same natural-key uniqueness as the SQL schema. Values are copied on the
// way in and out so callers never share state with the store.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/glucose-api/internal/apperror"
	"github.com/sakif/glucose-api/internal/model"
	"github.com/sakif/glucose-api/internal/repository"
)

var _ repository.Store = (*Store)(nil)

var errClosed = errors.New("memory store closed")

// readingKey is model.ReadingKey with the timestamp reduced to microseconds,
// the precision the SQL backends keep.
type readingKey struct {
	metadataID   string
	device       string
	serialNumber string
	micros       int64
}

func keyOf(k model.ReadingKey) readingKey {
	return readingKey{
		metadataID:   k.MetadataID,
		device:       k.Device,
		serialNumber: k.SerialNumber,
		micros:       k.DeviceTimestamp.UnixMicro(),
	}
}

// Store is a concurrency-safe in-memory repository.Store.
type Store struct {
	mu sync.RWMutex

	metadata       map[string]model.Metadata // by ID
	metadataByUser map[string]string         // user_id -> ID
	readings       map[string]model.Reading  // by ID
	readingsByKey  map[readingKey]string     // natural key -> ID
	closed         bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		metadata:       make(map[string]model.Metadata),
		metadataByUser: make(map[string]string),
		readings:       make(map[string]model.Reading),
		readingsByKey:  make(map[readingKey]string),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return apperror.StoreFailure("ping", errClosed)
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// =========================================================================
// METADATA
// =========================================================================

func (s *Store) GetMetadataByUserID(_ context.Context, userID string) (*model.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.metadataByUser[userID]
	if !ok {
		return nil, apperror.NotFound("metadata", userID)
	}
	m := s.metadata[id]
	return &m, nil
}

func (s *Store) CreateMetadata(_ context.Context, m *model.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.metadataByUser[m.UserID]; taken {
		return apperror.Conflict("metadata", m.UserID)
	}

	stored := *m
	stored.ID = xid.New().String()
	stored.CreatedAt = normalizeTime(m.CreatedAt)
	s.metadata[stored.ID] = stored
	s.metadataByUser[stored.UserID] = stored.ID

	m.ID = stored.ID
	return nil
}

func (s *Store) UpdateMetadata(_ context.Context, m *model.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.metadata[m.ID]
	if !ok {
		return apperror.NotFound("metadata", m.ID)
	}
	stored.CreatedAt = normalizeTime(m.CreatedAt)
	stored.CreatedBy = m.CreatedBy
	s.metadata[m.ID] = stored
	return nil
}

// DeleteMetadata removes a metadata record and every reading it owns, the
// same cascade the SQL schema declares.
func (s *Store) DeleteMetadata(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metadata[id]
	if !ok {
		return apperror.NotFound("metadata", id)
	}
	for rid, r := range s.readings {
		if r.MetadataID == id {
			delete(s.readingsByKey, keyOf(r.Key()))
			delete(s.readings, rid)
		}
	}
	delete(s.metadataByUser, m.UserID)
	delete(s.metadata, id)
	return nil
}

// =========================================================================
// READINGS
// =========================================================================

func (s *Store) GetReadingByID(_ context.Context, id string) (*model.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.readings[id]
	if !ok {
		return nil, apperror.NotFound("glucose level", id)
	}
	return cloneReading(r), nil
}

func (s *Store) GetReadingByKey(_ context.Context, key model.ReadingKey) (*model.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.readingsByKey[keyOf(key)]
	if !ok {
		return nil, apperror.NotFound("glucose level", key.Device+"/"+key.SerialNumber)
	}
	return cloneReading(s.readings[id]), nil
}

func (s *Store) CreateReading(_ context.Context, r *model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metadata[r.MetadataID]; !ok {
		return apperror.NotFound("metadata", r.MetadataID)
	}
	k := keyOf(r.Key())
	if _, taken := s.readingsByKey[k]; taken {
		return apperror.Conflict("glucose level", r.Device+"/"+r.SerialNumber)
	}

	stored := *cloneReading(*r)
	stored.ID = xid.New().String()
	stored.DeviceTimestamp = normalizeTime(r.DeviceTimestamp)
	s.readings[stored.ID] = stored
	s.readingsByKey[k] = stored.ID

	r.ID = stored.ID
	return nil
}

func (s *Store) UpdateReading(_ context.Context, r *model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.readings[r.ID]
	if !ok {
		return apperror.NotFound("glucose level", r.ID)
	}
	stored.RecordingType = r.RecordingType
	stored.Clinical = cloneReading(*r).Clinical
	s.readings[r.ID] = stored
	return nil
}

func (s *Store) ListReadings(_ context.Context, metadataID string, opts repository.ListOptions) ([]model.Reading, int, error) {
	var less func(a, b *model.Reading) int
	if opts.Sort.Field != "" {
		col, ok := repository.SortColumn(opts.Sort.Field)
		if !ok {
			return nil, 0, apperror.InvalidSortField(opts.Sort.Field)
		}
		less = compareBy(col)
	}

	s.mu.RLock()
	owned := make([]model.Reading, 0)
	for _, r := range s.readings {
		if r.MetadataID == metadataID {
			owned = append(owned, *cloneReading(r))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(owned, func(a, b model.Reading) int {
		if less != nil {
			c := less(&a, &b)
			if opts.Sort.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		// ids are xids, so this is insertion order
		return cmp.Compare(a.ID, b.ID)
	})

	total := len(owned)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 && opts.Limit < total-start {
		end = start + opts.Limit
	}
	return owned[start:end], total, nil
}

// compareBy returns a comparator for an allow-listed column. Absent clinical
// values sort before present ones, as SQLite orders NULLs.
func compareBy(col string) func(a, b *model.Reading) int {
	switch col {
	case "id":
		return func(a, b *model.Reading) int { return cmp.Compare(a.ID, b.ID) }
	case "metadata_id":
		return func(a, b *model.Reading) int { return cmp.Compare(a.MetadataID, b.MetadataID) }
	case "device":
		return func(a, b *model.Reading) int { return cmp.Compare(a.Device, b.Device) }
	case "serial_number":
		return func(a, b *model.Reading) int { return cmp.Compare(a.SerialNumber, b.SerialNumber) }
	case "device_timestamp":
		return func(a, b *model.Reading) int { return a.DeviceTimestamp.Compare(b.DeviceTimestamp) }
	case "recording_type":
		return func(a, b *model.Reading) int { return cmp.Compare(a.RecordingType, b.RecordingType) }
	}
	return func(a, b *model.Reading) int {
		av, _ := a.Field(col)
		bv, _ := b.Field(col)
		switch {
		case av == nil && bv == nil:
			return 0
		case av == nil:
			return -1
		case bv == nil:
			return 1
		}
		return cmp.Compare(*av, *bv)
	}
}

// cloneReading deep-copies the clinical pointers.
func cloneReading(r model.Reading) *model.Reading {
	out := r
	src := r.Clinical.Fields()
	for i, f := range out.Clinical.Fields() {
		if *src[i] != nil {
			v := **src[i]
			*f = &v
		}
	}
	return &out
}

// normalizeTime matches what the SQL backends return: UTC, microseconds, no
// monotonic reading.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
