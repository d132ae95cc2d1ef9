package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so the wire format
// stays the same across endpoints:
//
//	writeJSON(w, http.StatusOK, data)
//	writeError(w, err)
//
// ERROR FORMAT:
//   {"error": "<message>"}
//
// Two endpoints answer with a bare JSON string instead (see writeMessage);
// existing clients rely on those literal bodies.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/glucose-api/internal/apperror"
)

// ErrorResponse is the error shape returned by all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set before the body: once Encode writes, later
// header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent; all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeMessage sends msg as a bare JSON string, e.g. "No object returned in body".
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, msg)
}

// statusFor maps an error kind to an HTTP status.
//
// Order matters: a batch failure wraps the item's own error, so
// ErrProcessingFailed must win over the shape kinds it may carry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrProcessingFailed),
		errors.Is(err, apperror.ErrStore),
		errors.Is(err, apperror.ErrUserNotFound):
		// unknown user stays a server error, matching existing clients
		return http.StatusInternalServerError
	case errors.Is(err, apperror.ErrMissingParameter),
		errors.Is(err, apperror.ErrInvalidParameter),
		errors.Is(err, apperror.ErrInvalidSortField),
		errors.Is(err, apperror.ErrInvalidTimestamp),
		errors.Is(err, apperror.ErrInvalidValue),
		errors.Is(err, apperror.ErrValidation),
		errors.Is(err, apperror.ErrEmptyBody):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound),
		errors.Is(err, apperror.ErrInvalidPage):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps a domain error to its status and sends {"error": message}.
//
// The message is the error's own text, cause included. Callers of this API
// have always received the underlying description on server errors.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}
