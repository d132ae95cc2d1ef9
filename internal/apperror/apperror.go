// Package apperror defines the error kinds shared by the service, storage and
// HTTP layers.
//
// Every AppError carries exactly one kind sentinel (Err). Callers branch on the
// kind with errors.Is and never on message text; the HTTP layer is the only
// place that turns a kind into a status code.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrMissingParameter = errors.New("missing parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidPage      = errors.New("invalid page")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidValue     = errors.New("invalid value")
	ErrEmptyBody        = errors.New("empty body")
	ErrStore            = errors.New("store error")
	ErrProcessingFailed = errors.New("processing failed")
)

type AppError struct {
	Err     error  // kind sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// MissingParameter reports a required request parameter that was not supplied.
func MissingParameter(name string) *AppError {
	return &AppError{
		Err:     ErrMissingParameter,
		Message: fmt.Sprintf("%s parameter is required", name),
		Field:   name,
	}
}

func InvalidParameter(name, message string) *AppError {
	return &AppError{
		Err:     ErrInvalidParameter,
		Message: message,
		Field:   name,
	}
}

func InvalidSortField(field string) *AppError {
	return &AppError{
		Err:     ErrInvalidSortField,
		Message: fmt.Sprintf("cannot sort by unknown field %q", field),
		Field:   "sort_by",
	}
}

func InvalidPage(page int) *AppError {
	return &AppError{
		Err:     ErrInvalidPage,
		Message: "Invalid page.",
		Field:   fmt.Sprintf("page=%d", page),
	}
}

// UserNotFound is returned when no metadata record exists for a user_id.
func UserNotFound(userID string) *AppError {
	return &AppError{
		Err:     ErrUserNotFound,
		Message: "User is not found",
		Field:   userID,
	}
}

func InvalidTimestamp(field string, cause error) *AppError {
	return &AppError{
		Err:     ErrInvalidTimestamp,
		Message: fmt.Sprintf("%s is not a valid ISO-8601 timestamp", field),
		Field:   field,
		Cause:   cause,
	}
}

func InvalidValue(field string, value any) *AppError {
	return &AppError{
		Err:     ErrInvalidValue,
		Message: fmt.Sprintf("%s has unsupported value type %T", field, value),
		Field:   field,
	}
}

func EmptyBody() *AppError {
	return &AppError{
		Err:     ErrEmptyBody,
		Message: "No object returned in body",
	}
}

// StoreFailure wraps a storage error (connectivity, constraint) with context.
func StoreFailure(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStore,
		Message: fmt.Sprintf("%s: %v", op, cause),
		Cause:   cause,
	}
}

// ProcessingFailed reports that item index of a batch could not be stored.
// Items before index are already committed.
func ProcessingFailed(index int, cause error) *AppError {
	return &AppError{
		Err:     ErrProcessingFailed,
		Message: fmt.Sprintf("item %d: %v", index, cause),
		Cause:   cause,
	}
}
