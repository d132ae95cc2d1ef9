// Package model defines the data structures used throughout the application.
package model

import "time"

// Metadata is the per-user record that owns a set of glucose readings.
//
// ID is the surrogate key every reading references. UserID is the externally
// assigned natural key; the store holds at most one Metadata per UserID.
type Metadata struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Clinical holds the optional reading fields. The store treats them as opaque
// text: nil means absent and is serialized as null, never as "".
type Clinical struct {
	GlucoseValueTrend              *string `json:"glucose_value_trend"`
	GlucoseScan                    *string `json:"glucose_scan"`
	NonNumericalRapidActingInsulin *string `json:"non_numerical_rapid_acting_insulin"`
	RapidActingInsulin             *string `json:"rapid_acting_insulin"`
	NonNumericalNutritionalData    *string `json:"non_numerical_nutritional_data"`
	CarbohydratesGrams             *string `json:"carbohydrates_grams"`
	CarbohydratesPortions          *string `json:"carbohydrates_portions"`
	NonNumericalDepotInsulin       *string `json:"non_numerical_depot_insulin"`
	DepotInsulin                   *string `json:"depot_insulin"`
	Notes                          *string `json:"notes"`
	GlucoseTestStrips              *string `json:"glucose_test_strips"`
	Ketone                         *string `json:"ketone"`
	MealtimeInsulin                *string `json:"mealtime_insulin"`
	CorrectionInsulin              *string `json:"correction_insulin"`
	InsulinChangeByUser            *string `json:"insulin_change_by_user"`
}

// ClinicalFields lists the wire and column names of the Clinical fields, in
// the order used by Clinical.Fields.
var ClinicalFields = []string{
	"glucose_value_trend",
	"glucose_scan",
	"non_numerical_rapid_acting_insulin",
	"rapid_acting_insulin",
	"non_numerical_nutritional_data",
	"carbohydrates_grams",
	"carbohydrates_portions",
	"non_numerical_depot_insulin",
	"depot_insulin",
	"notes",
	"glucose_test_strips",
	"ketone",
	"mealtime_insulin",
	"correction_insulin",
	"insulin_change_by_user",
}

// Fields returns pointers to every Clinical field in ClinicalFields order.
// Storage code uses it both to scan rows and to bind values.
func (c *Clinical) Fields() []**string {
	return []**string{
		&c.GlucoseValueTrend,
		&c.GlucoseScan,
		&c.NonNumericalRapidActingInsulin,
		&c.RapidActingInsulin,
		&c.NonNumericalNutritionalData,
		&c.CarbohydratesGrams,
		&c.CarbohydratesPortions,
		&c.NonNumericalDepotInsulin,
		&c.DepotInsulin,
		&c.Notes,
		&c.GlucoseTestStrips,
		&c.Ketone,
		&c.MealtimeInsulin,
		&c.CorrectionInsulin,
		&c.InsulinChangeByUser,
	}
}

// Field returns the value of the named clinical field.
func (c *Clinical) Field(name string) (*string, bool) {
	for i, f := range c.Fields() {
		if ClinicalFields[i] == name {
			return *f, true
		}
	}
	return nil, false
}

// Reading is a single glucose-monitor record.
//
// (MetadataID, Device, SerialNumber, DeviceTimestamp) is the natural key and
// never changes after creation. RecordingType and the Clinical fields are
// replaced wholesale on every upsert.
type Reading struct {
	ID              string    `json:"id"`
	MetadataID      string    `json:"metadata"`
	Device          string    `json:"device"`
	SerialNumber    string    `json:"serial_number"`
	DeviceTimestamp time.Time `json:"device_timestamp"`
	RecordingType   string    `json:"recording_type"`
	Clinical
}

// Key returns the natural key of the reading.
func (r *Reading) Key() ReadingKey {
	return ReadingKey{
		MetadataID:      r.MetadataID,
		Device:          r.Device,
		SerialNumber:    r.SerialNumber,
		DeviceTimestamp: r.DeviceTimestamp,
	}
}

// ReadingKey identifies a reading within its owner.
type ReadingKey struct {
	MetadataID      string
	Device          string
	SerialNumber    string
	DeviceTimestamp time.Time
}

// Page is one page of readings for a user.
type Page struct {
	Count    int // total readings for the user, across all pages
	Page     int // 1-based
	PageSize int
	Results  []Reading
}

// HasNext reports whether readings exist beyond this page.
func (p *Page) HasNext() bool {
	return p.Page*p.PageSize < p.Count
}

// HasPrevious reports whether this is not the first page.
func (p *Page) HasPrevious() bool {
	return p.Page > 1
}
