// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, upserts, paginates
//	Repository (Data layer)  → reads/writes the store
//
// LevelService takes a repository.Store (interface), never a concrete
// backend. main.go picks SQLite, Postgres or the memory store; tests pass the
// memory store or a failing mock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sakif/glucose-api/internal/apperror"
	"github.com/sakif/glucose-api/internal/metrics"
	"github.com/sakif/glucose-api/internal/model"
	"github.com/sakif/glucose-api/internal/repository"
)

// DefaultPageSize is used when neither configuration nor the request sets a
// page size.
const DefaultPageSize = 100

// MaxPageSize bounds both the configured page size and a request's limit.
const MaxPageSize = 1000

// LevelService implements upsert, query and batch intake of glucose readings.
type LevelService struct {
	store    repository.Store
	pageSize int
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewLevelService creates a new LevelService. A pageSize below 1 means
// DefaultPageSize; one above MaxPageSize is clamped. collector may be nil.
func NewLevelService(store repository.Store, pageSize int, collector *metrics.Collector, logger *slog.Logger) *LevelService {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)
	return &LevelService{
		store:    store,
		pageSize: pageSize,
		metrics:  collector,
		logger:   logger,
	}
}

// =========================================================================
// UPSERT
// =========================================================================

// Upsert stores one submission: lookup-or-create of the owner's metadata,
// then lookup-or-create of the reading by its natural key.
//
// Existing records are overwritten unconditionally (last write wins). The
// reading's recording_type and every clinical field are replaced, so a field
// absent from sub becomes absent in the store.
//
// No lock spans the lookup and the write. Two concurrent upserts of the same
// key can both miss; the loser's create fails with ErrConflict and is
// replayed once as lookup + update.
func (s *LevelService) Upsert(ctx context.Context, sub *model.Submission) (*model.Metadata, *model.Reading, error) {
	if err := sub.Validate(); err != nil {
		return nil, nil, err
	}

	meta, err := s.upsertMetadata(ctx, sub.Metadata())
	if err != nil {
		return nil, nil, err
	}

	reading := sub.Reading(meta.ID)
	stored, err := s.upsertReading(ctx, &reading)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debug("reading upserted",
		slog.String("user_id", meta.UserID),
		slog.String("metadata_id", meta.ID),
		slog.String("reading_id", stored.ID),
	)
	return meta, stored, nil
}

func (s *LevelService) upsertMetadata(ctx context.Context, m model.Metadata) (*model.Metadata, error) {
	existing, err := s.store.GetMetadataByUserID(ctx, m.UserID)
	switch {
	case err == nil:
		return s.overwriteMetadata(ctx, existing, m, metrics.OutcomeUpdated)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, apperror.StoreFailure("looking up metadata", err)
	}

	created := m
	err = s.store.CreateMetadata(ctx, &created)
	if err == nil {
		s.metrics.Upsert(metrics.ObjectMetadata, metrics.OutcomeCreated)
		return &created, nil
	}
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, apperror.StoreFailure("creating metadata", err)
	}

	s.logger.Info("metadata created concurrently, retrying as update",
		slog.String("user_id", m.UserID),
	)
	existing, err = s.store.GetMetadataByUserID(ctx, m.UserID)
	if err != nil {
		return nil, apperror.StoreFailure("looking up metadata after conflict", err)
	}
	return s.overwriteMetadata(ctx, existing, m, metrics.OutcomeRetried)
}

func (s *LevelService) overwriteMetadata(ctx context.Context, existing *model.Metadata, m model.Metadata, outcome string) (*model.Metadata, error) {
	existing.CreatedAt = m.CreatedAt
	existing.CreatedBy = m.CreatedBy
	if err := s.store.UpdateMetadata(ctx, existing); err != nil {
		return nil, apperror.StoreFailure("updating metadata", err)
	}
	s.metrics.Upsert(metrics.ObjectMetadata, outcome)
	return existing, nil
}

func (s *LevelService) upsertReading(ctx context.Context, r *model.Reading) (*model.Reading, error) {
	existing, err := s.store.GetReadingByKey(ctx, r.Key())
	switch {
	case err == nil:
		return s.overwriteReading(ctx, existing, r, metrics.OutcomeUpdated)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, apperror.StoreFailure("looking up glucose level", err)
	}

	err = s.store.CreateReading(ctx, r)
	if err == nil {
		s.metrics.Upsert(metrics.ObjectReading, metrics.OutcomeCreated)
		return r, nil
	}
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, apperror.StoreFailure("creating glucose level", err)
	}

	s.logger.Info("glucose level created concurrently, retrying as update",
		slog.String("metadata_id", r.MetadataID),
		slog.String("device", r.Device),
		slog.String("serial_number", r.SerialNumber),
	)
	existing, err = s.store.GetReadingByKey(ctx, r.Key())
	if err != nil {
		return nil, apperror.StoreFailure("looking up glucose level after conflict", err)
	}
	return s.overwriteReading(ctx, existing, r, metrics.OutcomeRetried)
}

func (s *LevelService) overwriteReading(ctx context.Context, existing, r *model.Reading, outcome string) (*model.Reading, error) {
	existing.RecordingType = r.RecordingType
	existing.Clinical = r.Clinical
	if err := s.store.UpdateReading(ctx, existing); err != nil {
		return nil, apperror.StoreFailure("updating glucose level", err)
	}
	s.metrics.Upsert(metrics.ObjectReading, outcome)
	return existing, nil
}

// =========================================================================
// QUERY
// =========================================================================

// ListQuery holds the caller-supplied list parameters. Zero values mean
// "not supplied".
type ListQuery struct {
	UserID string
	Limit  int    // page size override
	Page   int    // 1-based
	SortBy string // field name, "-" prefix for descending
}

// ListReadings returns one page of a user's readings.
//
// Parameter problems are reported before the store is touched. An unknown
// user is ErrUserNotFound, which the transport reports as a server error.
func (s *LevelService) ListReadings(ctx context.Context, q ListQuery) (*model.Page, error) {
	if q.UserID == "" {
		return nil, apperror.MissingParameter("user_id")
	}

	var sort repository.Sort
	if q.SortBy != "" {
		var ok bool
		if sort, ok = repository.ParseSort(q.SortBy); !ok {
			return nil, apperror.InvalidSortField(q.SortBy)
		}
	}

	if q.Limit < 0 {
		return nil, apperror.InvalidParameter("limit", "limit must be a positive integer")
	}
	if q.Limit > MaxPageSize {
		return nil, apperror.InvalidParameter("limit", fmt.Sprintf("limit must not exceed %d", MaxPageSize))
	}
	if q.Page < 0 {
		return nil, apperror.InvalidParameter("page", "page must be a positive integer")
	}

	pageSize := s.pageSize
	if q.Limit > 0 {
		pageSize = q.Limit
	}
	page := max(q.Page, 1)
	if page-1 > math.MaxInt/pageSize {
		return nil, apperror.InvalidPage(page)
	}

	meta, err := s.store.GetMetadataByUserID(ctx, q.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.UserNotFound(q.UserID)
		}
		return nil, apperror.StoreFailure("looking up metadata", err)
	}

	readings, total, err := s.store.ListReadings(ctx, meta.ID, repository.ListOptions{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
		Sort:   sort,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidSortField) {
			return nil, err
		}
		return nil, apperror.StoreFailure("listing glucose levels", err)
	}

	if page > 1 && len(readings) == 0 {
		return nil, apperror.InvalidPage(page)
	}

	return &model.Page{
		Count:    total,
		Page:     page,
		PageSize: pageSize,
		Results:  readings,
	}, nil
}

// GetByID returns a reading by its surrogate id. There is no ownership check.
func (s *LevelService) GetByID(ctx context.Context, id string) (*model.Reading, error) {
	r, err := s.store.GetReadingByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, apperror.StoreFailure("getting glucose level", err)
	}
	return r, nil
}

// =========================================================================
// BATCH INTAKE
// =========================================================================

// BatchResult holds one metadata and one reading entry per input item, in
// input order. Metadata entries repeat when items share a user.
type BatchResult struct {
	Metadata []model.Metadata
	Readings []model.Reading
}

// CreateBatch normalizes and upserts raw items in order.
//
// The first failing item aborts the call with ErrProcessingFailed. Items
// before it stay committed; there is no batch-wide transaction.
func (s *LevelService) CreateBatch(ctx context.Context, raw []map[string]any) (*BatchResult, error) {
	if len(raw) == 0 {
		return nil, apperror.EmptyBody()
	}

	result := &BatchResult{
		Metadata: make([]model.Metadata, 0, len(raw)),
		Readings: make([]model.Reading, 0, len(raw)),
	}
	for i, item := range raw {
		sub, err := model.NormalizeSubmission(item)
		if err != nil {
			return nil, s.batchFailed(i, len(result.Readings), err)
		}
		meta, reading, err := s.Upsert(ctx, sub)
		if err != nil {
			return nil, s.batchFailed(i, len(result.Readings), err)
		}
		result.Metadata = append(result.Metadata, *meta)
		result.Readings = append(result.Readings, *reading)
		s.metrics.BatchItem()
	}

	s.logger.Info("batch stored", slog.Int("items", len(raw)))
	return result, nil
}

func (s *LevelService) batchFailed(index, committed int, err error) error {
	s.logger.Error("batch item failed",
		slog.Int("index", index),
		slog.Int("committed", committed),
		slog.String("error", err.Error()),
	)
	return apperror.ProcessingFailed(index, err)
}
