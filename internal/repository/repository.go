// Package repository declares the storage contracts used by the service
// layer. Implementations live in the sqlstore and memory subpackages.
//
// Lookups return apperror.ErrNotFound when nothing matches. Creates return
// apperror.ErrConflict when a natural key is already taken, which the service
// treats as "someone else created it first".
package repository

import (
	"context"
	"strings"

	"github.com/sakif/glucose-api/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
	Sort   Sort
}

// Sort is a validated ordering. The zero value means insertion order.
type Sort struct {
	Field string // allow-listed field name, see SortColumn
	Desc  bool
}

type MetadataRepository interface {
	GetMetadataByUserID(ctx context.Context, userID string) (*model.Metadata, error)
	CreateMetadata(ctx context.Context, m *model.Metadata) error
	UpdateMetadata(ctx context.Context, m *model.Metadata) error
}

type ReadingRepository interface {
	GetReadingByID(ctx context.Context, id string) (*model.Reading, error)
	GetReadingByKey(ctx context.Context, key model.ReadingKey) (*model.Reading, error)
	CreateReading(ctx context.Context, r *model.Reading) error
	UpdateReading(ctx context.Context, r *model.Reading) error
	// ListReadings returns one page of the readings owned by metadataID and
	// the total number of readings it owns.
	ListReadings(ctx context.Context, metadataID string, opts ListOptions) ([]model.Reading, int, error)
}

// Store is everything the glucose service needs from a backend.
type Store interface {
	MetadataRepository
	ReadingRepository
	Ping(ctx context.Context) error
	Close() error
}

// sortColumns maps every sortable field name to its column. Column names are
// interpolated into ORDER BY, so only values from this map may reach SQL.
var sortColumns = map[string]string{
	"id":               "id",
	"metadata":         "metadata_id",
	"device":           "device",
	"serial_number":    "serial_number",
	"device_timestamp": "device_timestamp",
	"recording_type":   "recording_type",
}

func init() {
	for _, f := range model.ClinicalFields {
		sortColumns[f] = f
	}
}

// SortColumn returns the column for a sortable field name.
func SortColumn(field string) (string, bool) {
	col, ok := sortColumns[field]
	return col, ok
}

// ParseSort validates a caller-supplied sort expression. A leading "-" asks
// for descending order. ok is false for unknown fields.
func ParseSort(expr string) (s Sort, ok bool) {
	field := expr
	if strings.HasPrefix(field, "-") {
		s.Desc = true
		field = field[1:]
	}
	if _, known := sortColumns[field]; !known {
		return Sort{}, false
	}
	s.Field = field
	return s, true
}
