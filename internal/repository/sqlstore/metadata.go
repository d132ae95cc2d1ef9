package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/glucose-api/internal/apperror"
	"github.com/sakif/glucose-api/internal/model"
	"github.com/sakif/glucose-api/internal/repository"
)

var _ repository.MetadataRepository = (*DB)(nil)

// GetMetadataByUserID looks a metadata record up by its natural key.
func (db *DB) GetMetadataByUserID(ctx context.Context, userID string) (*model.Metadata, error) {
	var (
		m         model.Metadata
		createdAt string
	)

	err := db.conn.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT id, user_id, created_at, created_by
		 FROM glucose_metadata
		 WHERE user_id = ?`),
		userID,
	).Scan(&m.ID, &m.UserID, &createdAt, &m.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("metadata", userID)
		}
		return nil, fmt.Errorf("sqlstore: getting metadata for user %s: %w", userID, err)
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("sqlstore: metadata %s created_at: %w", m.ID, err)
	}
	return &m, nil
}

// CreateMetadata inserts m and sets its surrogate ID.
//
// A second record for the same user_id violates idx_glucose_metadata_user_id;
// that surfaces as apperror.ErrConflict and m.ID is left empty.
func (db *DB) CreateMetadata(ctx context.Context, m *model.Metadata) error {
	id := xid.New().String()

	_, err := db.conn.ExecContext(ctx, db.dialect.rebind(
		`INSERT INTO glucose_metadata (id, user_id, created_at, created_by)
		 VALUES (?, ?, ?, ?)`),
		id,
		m.UserID,
		formatTime(m.CreatedAt),
		m.CreatedBy,
	)
	if err != nil {
		if db.dialect.isUniqueViolation(err) {
			return apperror.Conflict("metadata", m.UserID)
		}
		return fmt.Errorf("sqlstore: creating metadata for user %s: %w", m.UserID, err)
	}

	m.ID = id
	return nil
}

// UpdateMetadata overwrites created_at and created_by of an existing record.
func (db *DB) UpdateMetadata(ctx context.Context, m *model.Metadata) error {
	result, err := db.conn.ExecContext(ctx, db.dialect.rebind(
		`UPDATE glucose_metadata
		 SET created_at = ?, created_by = ?
		 WHERE id = ?`),
		formatTime(m.CreatedAt),
		m.CreatedBy,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating metadata %s: %w", m.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("metadata", m.ID)
	}
	return nil
}
