package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/glucose-api/internal/apperror"
	"github.com/sakif/glucose-api/internal/model"
	"github.com/sakif/glucose-api/internal/repository"
)

var _ repository.ReadingRepository = (*DB)(nil)

var (
	readingColumns = "id, metadata_id, device, serial_number, device_timestamp, recording_type, " +
		strings.Join(model.ClinicalFields, ", ")

	clinicalAssignments = strings.Join(model.ClinicalFields, " = ?, ") + " = ?"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*model.Reading, error) {
	var (
		r  model.Reading
		ts string
	)

	dest := []any{&r.ID, &r.MetadataID, &r.Device, &r.SerialNumber, &ts, &r.RecordingType}
	// **string scan targets: NULL becomes a nil pointer, not "".
	for _, f := range r.Clinical.Fields() {
		dest = append(dest, f)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if r.DeviceTimestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("reading %s device_timestamp: %w", r.ID, err)
	}
	return &r, nil
}

// clinicalArgs returns the clinical values in column order. A nil *string is
// bound as NULL by database/sql.
func clinicalArgs(c *model.Clinical) []any {
	fields := c.Fields()
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = *f
	}
	return args
}

// GetReadingByID retrieves a reading by its surrogate ID.
func (db *DB) GetReadingByID(ctx context.Context, id string) (*model.Reading, error) {
	row := db.conn.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT `+readingColumns+`
		 FROM glucose_levels
		 WHERE id = ?`),
		id,
	)
	r, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("glucose level", id)
		}
		return nil, fmt.Errorf("sqlstore: getting reading %s: %w", id, err)
	}
	return r, nil
}

// GetReadingByKey retrieves a reading by its natural key.
func (db *DB) GetReadingByKey(ctx context.Context, key model.ReadingKey) (*model.Reading, error) {
	row := db.conn.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT `+readingColumns+`
		 FROM glucose_levels
		 WHERE metadata_id = ? AND device = ? AND serial_number = ? AND device_timestamp = ?`),
		key.MetadataID,
		key.Device,
		key.SerialNumber,
		formatTime(key.DeviceTimestamp),
	)
	r, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("glucose level", key.Device+"/"+key.SerialNumber)
		}
		return nil, fmt.Errorf("sqlstore: getting reading by key: %w", err)
	}
	return r, nil
}

// CreateReading inserts r and sets its surrogate ID. A duplicate natural key
// yields apperror.ErrConflict.
func (db *DB) CreateReading(ctx context.Context, r *model.Reading) error {
	id := xid.New().String()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 6+len(model.ClinicalFields)), ", ")
	args := append([]any{
		id,
		r.MetadataID,
		r.Device,
		r.SerialNumber,
		formatTime(r.DeviceTimestamp),
		r.RecordingType,
	}, clinicalArgs(&r.Clinical)...)

	_, err := db.conn.ExecContext(ctx, db.dialect.rebind(
		`INSERT INTO glucose_levels (`+readingColumns+`)
		 VALUES (`+placeholders+`)`),
		args...,
	)
	if err != nil {
		if db.dialect.isUniqueViolation(err) {
			return apperror.Conflict("glucose level", r.Device+"/"+r.SerialNumber)
		}
		return fmt.Errorf("sqlstore: creating reading: %w", err)
	}

	r.ID = id
	return nil
}

// UpdateReading replaces recording_type and every clinical field of the
// reading with ID r.ID. Identity columns are never written.
func (db *DB) UpdateReading(ctx context.Context, r *model.Reading) error {
	args := append([]any{r.RecordingType}, clinicalArgs(&r.Clinical)...)
	args = append(args, r.ID)

	result, err := db.conn.ExecContext(ctx, db.dialect.rebind(
		`UPDATE glucose_levels
		 SET recording_type = ?, `+clinicalAssignments+`
		 WHERE id = ?`),
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating reading %s: %w", r.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("glucose level", r.ID)
	}
	return nil
}

// ListReadings returns one page of readings owned by metadataID, plus the
// total count for that owner.
//
// The surrogate id is always the last ORDER BY key. xids grow with creation
// time, so an unsorted listing is insertion order and equal sort values still
// page deterministically. Offset pagination is not stable under concurrent
// inserts.
func (db *DB) ListReadings(ctx context.Context, metadataID string, opts repository.ListOptions) ([]model.Reading, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT COUNT(*) FROM glucose_levels WHERE metadata_id = ?`),
		metadataID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: counting readings: %w", err)
	}

	orderBy, err := orderClause(opts.Sort)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.QueryContext(ctx, db.dialect.rebind(
		`SELECT `+readingColumns+`
		 FROM glucose_levels
		 WHERE metadata_id = ?
		 ORDER BY `+orderBy+`
		 LIMIT ? OFFSET ?`),
		metadataID,
		opts.Limit,
		opts.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlstore: listing readings: %w", err)
	}
	defer rows.Close()

	readings := make([]model.Reading, 0, min(opts.Limit, max(total-opts.Offset, 0)))
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlstore: scanning reading row: %w", err)
		}
		readings = append(readings, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: iterating readings: %w", err)
	}

	return readings, total, nil
}

// orderClause builds ORDER BY from the allow-list only.
func orderClause(s repository.Sort) (string, error) {
	if s.Field == "" {
		return "id", nil
	}
	col, ok := repository.SortColumn(s.Field)
	if !ok {
		return "", apperror.InvalidSortField(s.Field)
	}
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	if col == "id" {
		return "id " + dir, nil
	}
	return col + " " + dir + ", id", nil
}
