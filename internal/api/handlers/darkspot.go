// Package handlers contains the HTTP handlers of the dark-spot API.
//
// Routes:
//   - POST /nearest-dark-spot          legacy search, bare array response
//   - POST /v1/dark-spots/search       search with the data envelope
//   - POST /v1/dark-spots/batch        several searches in one request
//   - GET  /v1/dark-spots/radiance     single pixel lookup
//   - GET  /v1/raster                  raster metadata
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"darkspot/internal/core"
	"darkspot/internal/darkspot"
	"darkspot/internal/raster"
	"darkspot/internal/types"
)

// DarkSpotService is the service contract used by DarkSpotHandler.
// *darkspot.Service implements it.
type DarkSpotService interface {
	FindDarkSpots(ctx context.Context, q darkspot.Query) ([]darkspot.DarkSpot, error)
	FindDarkSpotsBatch(ctx context.Context, queries []darkspot.Query) ([]darkspot.BatchResult, error)
	Radiance(ctx context.Context, lat, lon float64) (darkspot.Radiance, error)
	RasterInfo() raster.Info
}

// SearchRequest is the body of POST /v1/dark-spots/search and of each batch
// query.
type SearchRequest struct {
	Lat    *float64 `json:"lat" validate:"required,finite,latitude"`
	Lon    *float64 `json:"lon" validate:"required,finite,longitude"`
	Radius *float64 `json:"radius,omitempty" validate:"omitempty,finite,radius_km"`
	Count  *int     `json:"count,omitempty" validate:"omitempty,spot_count"`
}

// LegacySearchRequest is the body of POST /nearest-dark-spot. radius is a
// whole number of kilometres (200 and 200.0 both pass, 12.5 does not). Count
// is accepted for older clients and ignored.
type LegacySearchRequest struct {
	Lat    *float64 `json:"lat" validate:"required,finite,latitude"`
	Lon    *float64 `json:"lon" validate:"required,finite,longitude"`
	Radius *float64 `json:"radius,omitempty" validate:"omitempty,finite,whole_number,radius_km"`
	Count  *int     `json:"count,omitempty"`
}

// BatchRequest is the body of POST /v1/dark-spots/batch.
type BatchRequest struct {
	Queries []SearchRequest `json:"queries" validate:"required,min=1,dive"`
}

// LegacyErrorResponse keeps the "detail" field older clients read next to
// the standard error envelope.
type LegacyErrorResponse struct {
	Detail string           `json:"detail"`
	Error  core.ErrorDetail `json:"error"`
}

// DarkSpotHandler maps HTTP requests to DarkSpotService methods.
type DarkSpotHandler struct {
	service   DarkSpotService
	validator *core.Validator
	logger    *slog.Logger
}

// NewDarkSpotHandler creates a DarkSpotHandler.
func NewDarkSpotHandler(svc DarkSpotService, val *core.Validator, logger *slog.Logger) *DarkSpotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &DarkSpotHandler{
		service:   svc,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the /v1 endpoints.
func (h *DarkSpotHandler) RegisterRoutes(r chi.Router) {
	r.Route("/dark-spots", func(r chi.Router) {
		r.Post("/search", h.HandleSearch)
		r.Post("/batch", h.HandleBatch)
		r.Get("/radiance", h.HandleRadiance)
	})
	r.Get("/raster", h.HandleRasterInfo)
}

// RegisterLegacyRoutes mounts the unversioned route used by the original
// frontend.
func (h *DarkSpotHandler) RegisterLegacyRoutes(r chi.Router) {
	r.Post("/nearest-dark-spot", h.HandleLegacySearch)
}

// HandleLegacySearch handles POST /nearest-dark-spot. Success is a bare JSON
// array; an empty result is a 404 carrying types.MessageNoDarkSpots.
func (h *DarkSpotHandler) HandleLegacySearch(w http.ResponseWriter, r *http.Request) {
	var req LegacySearchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		legacyError(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		legacyError(w, r, err)
		return
	}
	q := darkspot.Query{Lat: *req.Lat, Lon: *req.Lon}
	if req.Radius != nil {
		q.RadiusKM = *req.Radius
	}

	spots, err := h.service.FindDarkSpots(r.Context(), q)
	if err != nil {
		legacyError(w, r, err)
		return
	}
	if len(spots) == 0 {
		legacyError(w, r, noDarkSpots())
		return
	}
	core.JSON(w, r, http.StatusOK, spots)
}

// HandleSearch handles POST /v1/dark-spots/search.
func (h *DarkSpotHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := h.decodeSearch(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	spots, err := h.service.FindDarkSpots(r.Context(), q)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if len(spots) == 0 {
		core.Error(w, r, noDarkSpots())
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: spots})
}

// HandleBatch handles POST /v1/dark-spots/batch. The response lists one
// result per query in request order; an empty search is reported as a
// not_found_dark_spots error on that item.
func (h *DarkSpotHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	queries := make([]darkspot.Query, len(req.Queries))
	for i, sr := range req.Queries {
		queries[i] = sr.query()
	}

	results, err := h.service.FindDarkSpotsBatch(r.Context(), queries)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	for i := range results {
		if results[i].Error == nil && len(results[i].Spots) == 0 {
			results[i].Error = noDarkSpots()
		}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: results})
}

// HandleRadiance handles GET /v1/dark-spots/radiance?lat=&lon=.
func (h *DarkSpotHandler) HandleRadiance(w http.ResponseWriter, r *http.Request) {
	lat, err := floatParam(r, "lat")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	lon, err := floatParam(r, "lon")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Radiance(r.Context(), lat, lon)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

// HandleRasterInfo handles GET /v1/raster.
func (h *DarkSpotHandler) HandleRasterInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.RasterInfo()})
}

func (h *DarkSpotHandler) decodeSearch(w http.ResponseWriter, r *http.Request) (darkspot.Query, error) {
	var req SearchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		return darkspot.Query{}, err
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return darkspot.Query{}, err
	}
	return req.query(), nil
}

// query converts a validated request; unset fields stay zero so the service
// applies its defaults.
func (sr SearchRequest) query() darkspot.Query {
	q := darkspot.Query{Lat: *sr.Lat, Lon: *sr.Lon}
	if sr.Radius != nil {
		q.RadiusKM = *sr.Radius
	}
	if sr.Count != nil {
		q.Count = *sr.Count
	}
	return q
}

func noDarkSpots() *types.AppError {
	return types.NewAppError(types.ErrCodeNotFoundDarkSpots, types.MessageNoDarkSpots, nil)
}

// legacyError writes the standard envelope plus a "detail" string.
func legacyError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", err)
	}
	core.JSON(w, r, appErr.HTTPStatus(), LegacyErrorResponse{
		Detail: appErr.Message,
		Error: core.ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// floatParam parses a required finite query parameter. Range checks are left
// to the service.
func floatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, types.NewAppError(types.ErrCodeValidationMissingField, name+" query parameter is required", nil)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidQueryArg,
			name+" must be a finite number",
			nil,
			map[string]any{"parameter": name, "value": raw},
		)
	}
	return v, nil
}
