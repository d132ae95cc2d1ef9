package sqlstore

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sakif/glucose-api/internal/apperror"
	"github.com/sakif/glucose-api/internal/model"
	"github.com/sakif/glucose-api/internal/repository"
)

// newTestDB opens a fresh in-memory SQLite database for one test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func createTestMetadata(t *testing.T, db *DB, userID string) *model.Metadata {
	t.Helper()
	m := &model.Metadata{
		UserID:    userID,
		CreatedAt: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy: "test_creator",
	}
	if err := db.CreateMetadata(context.Background(), m); err != nil {
		t.Fatalf("failed to create test metadata: %v", err)
	}
	return m
}

func createTestReading(t *testing.T, db *DB, metadataID, device string, ts time.Time) *model.Reading {
	t.Helper()
	r := &model.Reading{
		MetadataID:      metadataID,
		Device:          device,
		SerialNumber:    "12345",
		DeviceTimestamp: ts,
		RecordingType:   "0",
	}
	if err := db.CreateReading(context.Background(), r); err != nil {
		t.Fatalf("failed to create test reading: %v", err)
	}
	return r
}

// =========================================================================
// METADATA
// =========================================================================

func TestCreateMetadata(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")

	if m.ID == "" {
		t.Fatal("CreateMetadata() did not set ID")
	}

	found, err := db.GetMetadataByUserID(context.Background(), "test_user")
	if err != nil {
		t.Fatalf("GetMetadataByUserID() error = %v", err)
	}
	if found.ID != m.ID {
		t.Errorf("ID = %q, want %q", found.ID, m.ID)
	}
	if !found.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, m.CreatedAt)
	}
	if found.CreatedBy != "test_creator" {
		t.Errorf("CreatedBy = %q, want %q", found.CreatedBy, "test_creator")
	}
}

func TestCreateMetadata_DuplicateUserIsConflict(t *testing.T) {
	db := newTestDB(t)
	createTestMetadata(t, db, "test_user")

	dup := &model.Metadata{UserID: "test_user", CreatedAt: time.Now(), CreatedBy: "other"}
	err := db.CreateMetadata(context.Background(), dup)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateMetadata() error = %v, want ErrConflict", err)
	}
	if dup.ID != "" {
		t.Errorf("ID = %q, want empty after conflict", dup.ID)
	}
}

func TestGetMetadataByUserID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetMetadataByUserID(context.Background(), "nobody")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetMetadataByUserID() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")

	m.CreatedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m.CreatedBy = "second_export"
	if err := db.UpdateMetadata(context.Background(), m); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}

	found, err := db.GetMetadataByUserID(context.Background(), "test_user")
	if err != nil {
		t.Fatalf("GetMetadataByUserID() error = %v", err)
	}
	if found.CreatedBy != "second_export" || !found.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("got %+v, want created_by/created_at overwritten", found)
	}
}

func TestUpdateMetadata_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdateMetadata(context.Background(), &model.Metadata{ID: "missing"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateMetadata() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// READINGS
// =========================================================================

func TestCreateReading_RoundTripKeepsNulls(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")

	r := &model.Reading{
		MetadataID:      m.ID,
		Device:          "Device1",
		SerialNumber:    "12345",
		DeviceTimestamp: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
		RecordingType:   "1",
	}
	r.CarbohydratesGrams = strPtr("50")
	r.Notes = strPtr("")
	if err := db.CreateReading(context.Background(), r); err != nil {
		t.Fatalf("CreateReading() error = %v", err)
	}

	found, err := db.GetReadingByID(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetReadingByID() error = %v", err)
	}
	if found.MetadataID != m.ID {
		t.Errorf("MetadataID = %q, want %q", found.MetadataID, m.ID)
	}
	if !found.DeviceTimestamp.Equal(r.DeviceTimestamp) {
		t.Errorf("DeviceTimestamp = %v, want %v", found.DeviceTimestamp, r.DeviceTimestamp)
	}
	if found.CarbohydratesGrams == nil || *found.CarbohydratesGrams != "50" {
		t.Errorf("CarbohydratesGrams = %v, want 50", found.CarbohydratesGrams)
	}
	if found.Notes == nil || *found.Notes != "" {
		t.Errorf("Notes = %v, want empty string (present)", found.Notes)
	}
	if found.GlucoseScan != nil {
		t.Errorf("GlucoseScan = %q, want nil", *found.GlucoseScan)
	}
}

func TestCreateReading_DuplicateKeyIsConflict(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")
	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	createTestReading(t, db, m.ID, "Device1", ts)

	dup := &model.Reading{MetadataID: m.ID, Device: "Device1", SerialNumber: "12345", DeviceTimestamp: ts, RecordingType: "2"}
	if err := db.CreateReading(context.Background(), dup); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateReading() error = %v, want ErrConflict", err)
	}
}

func TestCreateReading_UnknownMetadataFails(t *testing.T) {
	db := newTestDB(t)

	r := &model.Reading{MetadataID: "missing", Device: "D", SerialNumber: "S", DeviceTimestamp: time.Now(), RecordingType: "0"}
	err := db.CreateReading(context.Background(), r)
	if err == nil {
		t.Fatal("CreateReading() should fail the foreign key check")
	}
	if errors.Is(err, apperror.ErrConflict) {
		t.Errorf("foreign key failure reported as conflict: %v", err)
	}
}

func TestGetReadingByKey(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")
	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	created := createTestReading(t, db, m.ID, "Device1", ts)

	key := model.ReadingKey{MetadataID: m.ID, Device: "Device1", SerialNumber: "12345", DeviceTimestamp: ts}
	found, err := db.GetReadingByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("GetReadingByKey() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}

	key.DeviceTimestamp = ts.Add(time.Minute)
	if _, err := db.GetReadingByKey(context.Background(), key); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetReadingByKey() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateReading_FullReplace(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")

	r := &model.Reading{MetadataID: m.ID, Device: "D", SerialNumber: "S", DeviceTimestamp: time.Now(), RecordingType: "0"}
	r.Ketone = strPtr("0.3")
	r.Notes = strPtr("before")
	if err := db.CreateReading(context.Background(), r); err != nil {
		t.Fatalf("CreateReading() error = %v", err)
	}

	r.RecordingType = "5"
	r.Ketone = nil
	r.Notes = strPtr("after")
	if err := db.UpdateReading(context.Background(), r); err != nil {
		t.Fatalf("UpdateReading() error = %v", err)
	}

	found, err := db.GetReadingByID(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetReadingByID() error = %v", err)
	}
	if found.RecordingType != "5" {
		t.Errorf("RecordingType = %q, want 5", found.RecordingType)
	}
	if found.Ketone != nil {
		t.Errorf("Ketone = %q, want nil after full replace", *found.Ketone)
	}
	if found.Notes == nil || *found.Notes != "after" {
		t.Errorf("Notes = %v, want after", found.Notes)
	}
}

func TestGetReadingByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetReadingByID(context.Background(), "99999999999999999")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetReadingByID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// LIST
// =========================================================================

func TestListReadings_PaginationAndCount(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")
	other := createTestMetadata(t, db, "other_user")
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	first := createTestReading(t, db, m.ID, "Device1", base)
	second := createTestReading(t, db, m.ID, "Device2", base.Add(time.Hour))
	createTestReading(t, db, other.ID, "Device1", base)

	page1, total, err := db.ListReadings(context.Background(), m.ID, repository.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListReadings() error = %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(page1) != 1 || page1[0].ID != first.ID {
		t.Fatalf("page 1 = %+v, want only %s", page1, first.ID)
	}

	page2, _, err := db.ListReadings(context.Background(), m.ID, repository.ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListReadings() error = %v", err)
	}
	if len(page2) != 1 || page2[0].ID != second.ID {
		t.Fatalf("page 2 = %+v, want only %s", page2, second.ID)
	}
}

func TestListReadings_HugeLimit(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	createTestReading(t, db, m.ID, "Device1", base)
	second := createTestReading(t, db, m.ID, "Device2", base.Add(time.Hour))

	got, total, err := db.ListReadings(context.Background(), m.ID, repository.ListOptions{Limit: math.MaxInt, Offset: 1})
	if err != nil {
		t.Fatalf("ListReadings() error = %v", err)
	}
	if total != 2 || len(got) != 1 || got[0].ID != second.ID {
		t.Errorf("got %d readings of %d, want only %s", len(got), total, second.ID)
	}
}

func TestListReadings_Sort(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of timestamp order on purpose.
	late := createTestReading(t, db, m.ID, "A", base.Add(48*time.Hour))
	early := createTestReading(t, db, m.ID, "C", base)
	middle := createTestReading(t, db, m.ID, "B", base.Add(24*time.Hour))

	tests := []struct {
		name string
		sort repository.Sort
		want []string
	}{
		{"insertion order", repository.Sort{}, []string{late.ID, early.ID, middle.ID}},
		{"device_timestamp asc", repository.Sort{Field: "device_timestamp"}, []string{early.ID, middle.ID, late.ID}},
		{"device_timestamp desc", repository.Sort{Field: "device_timestamp", Desc: true}, []string{late.ID, middle.ID, early.ID}},
		{"device asc", repository.Sort{Field: "device"}, []string{late.ID, middle.ID, early.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := db.ListReadings(context.Background(), m.ID, repository.ListOptions{Limit: 10, Sort: tt.sort})
			if err != nil {
				t.Fatalf("ListReadings() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d readings, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("position %d = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestListReadings_RejectsUnknownSortField(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")

	_, _, err := db.ListReadings(context.Background(), m.ID, repository.ListOptions{
		Limit: 10,
		Sort:  repository.Sort{Field: "id; DROP TABLE glucose_levels"},
	})
	if !errors.Is(err, apperror.ErrInvalidSortField) {
		t.Errorf("ListReadings() error = %v, want ErrInvalidSortField", err)
	}
}

func TestDeletingMetadataCascades(t *testing.T) {
	db := newTestDB(t)
	m := createTestMetadata(t, db, "test_user")
	r := createTestReading(t, db, m.ID, "Device1", time.Now())

	if _, err := db.conn.Exec(`DELETE FROM glucose_metadata WHERE id = ?`, m.ID); err != nil {
		t.Fatalf("delete metadata: %v", err)
	}

	if _, err := db.GetReadingByID(context.Background(), r.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetReadingByID() error = %v, want ErrNotFound after cascade", err)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
