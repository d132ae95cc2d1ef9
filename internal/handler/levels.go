package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sakif/glucose-api/internal/apperror"
	"github.com/sakif/glucose-api/internal/model"
	"github.com/sakif/glucose-api/internal/service"
)

// maxBodyBytes caps a POST /levels body.
const maxBodyBytes = 32 << 20

const (
	msgLevelNotFound = "Glucose level with given ID not found"
	msgEmptyBody     = "No object returned in body"
)

// LevelService is the part of service.LevelService the handler uses.
type LevelService interface {
	ListReadings(ctx context.Context, q service.ListQuery) (*model.Page, error)
	GetByID(ctx context.Context, id string) (*model.Reading, error)
	CreateBatch(ctx context.Context, raw []map[string]any) (*service.BatchResult, error)
}

// LevelHandler serves the /levels endpoints.
type LevelHandler struct {
	svc    LevelService
	logger *slog.Logger
}

// NewLevelHandler creates a new LevelHandler.
func NewLevelHandler(svc LevelService, logger *slog.Logger) *LevelHandler {
	return &LevelHandler{svc: svc, logger: logger}
}

// ListResponse is one page of readings. Next and Previous are absolute URLs,
// null on the last and first page respectively.
type ListResponse struct {
	Count    int             `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  []model.Reading `json:"results"`
}

// BatchResponse mirrors service.BatchResult on the wire.
type BatchResponse struct {
	Metadata      []model.Metadata `json:"metadata"`
	GlucoseLevels []model.Reading  `json:"glucose_levels"`
}

// HandleList returns one page of a user's readings.
//
// HTTP: GET /levels?user_id=<id>&limit=<n>&sort_by=<field>&page=<n>
//
// sort_by takes any reading field name; prefix it with "-" for descending
// order. limit overrides the configured page size for this request.
func (h *LevelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := service.ListQuery{
		UserID: params.Get("user_id"),
		SortBy: params.Get("sort_by"),
	}

	// user_id is reported first; the service checks it before anything else
	if q.UserID != "" {
		var err error
		if q.Limit, err = positiveParam(params, "limit"); err != nil {
			writeError(w, apperror.InvalidParameter("limit", "limit must be a positive integer"))
			return
		}
		if q.Page, err = positiveParam(params, "page"); err != nil {
			writeError(w, apperror.InvalidPage(q.Page))
			return
		}
	}

	page, err := h.svc.ListReadings(r.Context(), q)
	if err != nil {
		h.logFailure(r, err)
		writeError(w, err)
		return
	}

	resp := ListResponse{
		Count:   page.Count,
		Results: page.Results,
	}
	if page.HasNext() {
		resp.Next = pageURL(r, page.Page+1)
	}
	if page.HasPrevious() {
		resp.Previous = pageURL(r, page.Page-1)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetByID returns a single reading.
//
// HTTP: GET /levels/{id}
func (h *LevelHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	reading, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, msgLevelNotFound)
			return
		}
		h.logFailure(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleCreate upserts a JSON array of flat reading objects.
//
// HTTP: POST /levels
// REQUEST BODY: [{"user_id": "...", "created_at": "...", "device": "...", ...}, ...]
//
// Items are stored in order. If one fails, the earlier ones stay stored and
// the response is a 500 naming the failing item.
func (h *LevelHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var items []map[string]any

	// numbers keep their literal digits
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	err := dec.Decode(&items)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		// empty body, same as an empty array
	case errors.As(err, &tooLarge):
		h.logger.Warn("levels body too large", slog.Int64("limit", tooLarge.Limit))
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("request body must not exceed %d bytes", tooLarge.Limit),
		})
		return
	case err != nil:
		h.logger.Warn("invalid levels JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "request body must be a JSON array of objects: " + err.Error()})
		return
	}

	result, err := h.svc.CreateBatch(r.Context(), items)
	if err != nil {
		if errors.Is(err, apperror.ErrEmptyBody) {
			writeMessage(w, http.StatusBadRequest, msgEmptyBody)
			return
		}
		h.logFailure(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Metadata:      result.Metadata,
		GlucoseLevels: result.Readings,
	})
}

func (h *LevelHandler) logFailure(r *http.Request, err error) {
	level := slog.LevelWarn
	if statusFor(err) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "levels request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}

// positiveParam parses an optional positive integer query parameter. Absent
// yields 0.
func positiveParam(params url.Values, name string) (int, error) {
	raw := params.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return n, strconv.ErrRange
	}
	return n, nil
}

// pageURL rebuilds the request URL as an absolute URL for another page. Page
// 1 drops the parameter.
func pageURL(r *http.Request, page int) *string {
	u := url.URL{
		Scheme: "http",
		Host:   r.Host,
		Path:   r.URL.Path,
	}
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		u.Scheme = "https"
	}

	q := r.URL.Query()
	if page == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()

	s := u.String()
	return &s
}
