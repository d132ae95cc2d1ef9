package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/glucose-api/internal/apperror"
)

// Submission is one flat reading as submitted by a client: the metadata
// fields of its owner plus the reading itself.
//
// It is produced only by NormalizeSubmission; everything downstream of the
// HTTP/CSV boundary works on this type instead of raw maps.
type Submission struct {
	UserID    string
	CreatedAt time.Time
	CreatedBy string

	Device          string
	SerialNumber    string
	DeviceTimestamp time.Time
	RecordingType   string
	Clinical
}

// Validate checks the fields that NormalizeSubmission leaves unchecked.
func (s *Submission) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"user_id", s.UserID},
		{"created_by", s.CreatedBy},
		{"device", s.Device},
		{"serial_number", s.SerialNumber},
		{"recording_type", s.RecordingType},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperror.ValidationFailed(r.field, r.field+" is required")
		}
	}
	if s.CreatedAt.IsZero() {
		return apperror.ValidationFailed("created_at", "created_at is required")
	}
	if s.DeviceTimestamp.IsZero() {
		return apperror.ValidationFailed("device_timestamp", "device_timestamp is required")
	}
	return nil
}

// Metadata returns the metadata record described by the submission.
func (s *Submission) Metadata() Metadata {
	return Metadata{
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		CreatedBy: s.CreatedBy,
	}
}

// Reading returns the reading described by the submission, owned by
// metadataID.
func (s *Submission) Reading(metadataID string) Reading {
	return Reading{
		MetadataID:      metadataID,
		Device:          s.Device,
		SerialNumber:    s.SerialNumber,
		DeviceTimestamp: s.DeviceTimestamp,
		RecordingType:   s.RecordingType,
		Clinical:        s.Clinical,
	}
}

// NormalizeSubmission converts a decoded JSON object into a Submission.
//
// Missing keys produce zero values; Validate reports them later. Only
// malformed timestamps and values that cannot be represented as text fail
// here.
func NormalizeSubmission(raw map[string]any) (*Submission, error) {
	var (
		s   Submission
		err error
	)

	strs := []struct {
		field string
		dst   *string
	}{
		{"user_id", &s.UserID},
		{"created_by", &s.CreatedBy},
		{"device", &s.Device},
		{"serial_number", &s.SerialNumber},
		{"recording_type", &s.RecordingType},
	}
	for _, f := range strs {
		v, err := optionalString(f.field, raw[f.field])
		if err != nil {
			return nil, err
		}
		if v != nil {
			*f.dst = *v
		}
	}

	if s.CreatedAt, err = timestampField("created_at", raw); err != nil {
		return nil, err
	}
	if s.DeviceTimestamp, err = timestampField("device_timestamp", raw); err != nil {
		return nil, err
	}

	for i, dst := range s.Clinical.Fields() {
		name := ClinicalFields[i]
		v, err := optionalString(name, raw[name])
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	return &s, nil
}

func timestampField(field string, raw map[string]any) (time.Time, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	str, ok := v.(string)
	if !ok {
		return time.Time{}, apperror.InvalidTimestamp(field, fmt.Errorf("got %T", v))
	}
	ts, err := ParseTimestamp(str)
	if err != nil {
		return time.Time{}, apperror.InvalidTimestamp(field, err)
	}
	return ts, nil
}

// optionalString coerces a decoded JSON scalar to text. nil stays nil.
func optionalString(field string, v any) (*string, error) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	default:
		return nil, apperror.InvalidValue(field, v)
	}
	return &s, nil
}

// timestampLayouts are the ISO-8601 forms accepted by ParseTimestamp. Layouts
// without a zone are read as UTC. Fractional seconds are accepted after any
// seconds field.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 date or date-time. The result is in UTC
// and truncated to microseconds, the precision the store keeps.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
