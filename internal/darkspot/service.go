package darkspot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"darkspot/internal/raster"
	"darkspot/internal/types"
)

const (
	// DefaultRadiusKM is used when a query leaves the radius unset.
	DefaultRadiusKM = 200.0
	// DefaultCount is the number of spots returned when unset.
	DefaultCount = 5
	// BatchConcurrencyLimit bounds concurrent searches in one batch.
	BatchConcurrencyLimit = 4
)

// Query is one dark-spot search. Zero RadiusKM and Count select the defaults.
type Query struct {
	Lat      float64
	Lon      float64
	RadiusKM float64
	Count    int
}

// Recorder receives search telemetry. The metrics package implements it.
type Recorder interface {
	RecordSearch(outcome string, spots int, duration time.Duration)
	RecordRadiance(outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSearch(string, int, time.Duration) {}
func (nopRecorder) RecordRadiance(string, time.Duration)    {}

// Service answers dark-spot searches and radiance lookups against one
// raster. It is safe for concurrent use.
type Service struct {
	raster          Raster
	extractor       *Extractor
	logger          *slog.Logger
	recorder        Recorder
	defaultRadiusKM float64
	defaultCount    int
	maxBatch        int
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithDefaults overrides the radius and count applied to unset query fields.
func WithDefaults(radiusKM float64, count int) Option {
	return func(s *Service) {
		if radiusKM > 0 {
			s.defaultRadiusKM = radiusKM
		}
		if count > 0 {
			s.defaultCount = count
		}
	}
}

// WithMaxWindowPixels caps the number of pixels one search may read.
func WithMaxWindowPixels(n int) Option {
	return func(s *Service) {
		s.extractor.maxPixels = n
	}
}

// WithMaxBatch caps the number of queries in one batch.
func WithMaxBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// NewService creates a Service over r.
func NewService(r Raster, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		raster:          r,
		extractor:       NewExtractor(r, 0),
		logger:          logger,
		recorder:        nopRecorder{},
		defaultRadiusKM: DefaultRadiusKM,
		defaultCount:    DefaultCount,
		maxBatch:        25,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RasterInfo describes the raster being searched.
func (s *Service) RasterInfo() raster.Info {
	return s.raster.Info()
}

// FindDarkSpots returns up to q.Count separated darkest spots within
// q.RadiusKM of (q.Lat, q.Lon), in discovery order. A search box outside the
// raster, or one holding no valid samples, returns an empty slice. Read
// failures are returned as internal errors rather than an empty result.
func (s *Service) FindDarkSpots(ctx context.Context, q Query) ([]DarkSpot, error) {
	start := time.Now()
	q, err := s.normalize(q)
	if err != nil {
		s.recorder.RecordSearch(types.OutcomeInvalid, 0, time.Since(start))
		return nil, err
	}

	grid, err := s.extractor.Extract(ctx, q.Lat, q.Lon, q.RadiusKM)
	if err != nil {
		return nil, s.searchFailed(q, err, start)
	}

	spots, err := Search(grid, s.raster.Geometry(), q.RadiusKM, q.Count)
	if err != nil {
		return nil, s.searchFailed(q, err, start)
	}

	outcome := types.OutcomeFound
	if len(spots) == 0 {
		outcome = types.OutcomeEmpty
	}
	s.recorder.RecordSearch(outcome, len(spots), time.Since(start))
	s.logger.Debug("dark spot search completed",
		"lat", q.Lat,
		"lon", q.Lon,
		"radius_km", q.RadiusKM,
		"count", q.Count,
		"window", grid.Window.String(),
		"valid_samples", grid.ValidCount(),
		"mask_radius_px", ExclusionRadius(q.RadiusKM, s.raster.Geometry().Resolution()),
		"spots", len(spots),
		"duration", time.Since(start),
	)
	return spots, nil
}

// BatchResult holds the outcome of one query in a batch. Exactly one of
// Spots and Error is set.
type BatchResult struct {
	Spots []DarkSpot      `json:"spots,omitempty"`
	Error *types.AppError `json:"error,omitempty"`
}

// FindDarkSpotsBatch runs queries concurrently. A failing query is reported
// in its own result and does not fail the others.
func (s *Service) FindDarkSpotsBatch(ctx context.Context, queries []Query) ([]BatchResult, error) {
	if len(queries) > s.maxBatch {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidField,
			fmt.Sprintf("batch size %d exceeds maximum of %d queries", len(queries), s.maxBatch),
			nil,
			map[string]any{"max": s.maxBatch},
		)
	}

	results := make([]BatchResult, len(queries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(BatchConcurrencyLimit)
	for i, q := range queries {
		g.Go(func() error {
			spots, err := s.FindDarkSpots(gctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[i] = BatchResult{Error: asAppError(err)}
				return nil
			}
			results[i] = BatchResult{Spots: spots}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Radiance returns the sample at (lat, lon).
func (s *Service) Radiance(ctx context.Context, lat, lon float64) (Radiance, error) {
	start := time.Now()
	res, err := PointQuery(ctx, s.raster, lat, lon)
	if err != nil {
		var outcome string
		switch {
		case errors.Is(err, raster.ErrOutOfBounds):
			outcome = types.OutcomeOutOfBounds
		case types.IsContextError(err):
			outcome = types.OutcomeCanceled
		default:
			outcome = types.OutcomeReadError
			s.logger.Error("radiance lookup failed", "lat", lat, "lon", lon, "error", err)
		}
		s.recorder.RecordRadiance(outcome, time.Since(start))
		return Radiance{}, asAppError(err)
	}
	s.recorder.RecordRadiance(types.OutcomeFound, time.Since(start))
	return res, nil
}

func (s *Service) normalize(q Query) (Query, error) {
	if !finite(q.Lat) || q.Lat < -90 || q.Lat > 90 {
		return q, types.NewAppError(types.ErrCodeValidationInvalidLat, "lat must be between -90 and 90", nil)
	}
	if !finite(q.Lon) || q.Lon < -180 || q.Lon > 180 {
		return q, types.NewAppError(types.ErrCodeValidationInvalidLon, "lon must be between -180 and 180", nil)
	}
	if q.RadiusKM == 0 {
		q.RadiusKM = s.defaultRadiusKM
	}
	if !finite(q.RadiusKM) || q.RadiusKM < 0 {
		return q, types.NewAppError(types.ErrCodeValidationInvalidRadius, "radius must be a positive number of kilometres", nil)
	}
	if q.Count == 0 {
		q.Count = s.defaultCount
	}
	if q.Count < 0 {
		return q, types.NewAppError(types.ErrCodeValidationInvalidCount, "count must be positive", nil)
	}
	return q, nil
}

func (s *Service) searchFailed(q Query, err error, start time.Time) error {
	appErr := asAppError(err)
	var outcome string
	switch {
	case types.IsContextError(err):
		outcome = types.OutcomeCanceled
		s.logger.Info("dark spot search abandoned",
			"lat", q.Lat,
			"lon", q.Lon,
			"radius_km", q.RadiusKM,
			"code", appErr.Code,
		)
	case appErr.HTTPStatus() < 500:
		outcome = types.OutcomeInvalid
	default:
		outcome = types.OutcomeReadError
		s.logger.Error("dark spot search failed",
			"lat", q.Lat,
			"lon", q.Lon,
			"radius_km", q.RadiusKM,
			"code", appErr.Code,
			"error", err,
		)
	}
	s.recorder.RecordSearch(outcome, 0, time.Since(start))
	return appErr
}

// asAppError classifies err, treating anything untyped as a raster read
// failure.
func asAppError(err error) *types.AppError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if ctxErr := types.FromContextError(err); ctxErr != nil {
		return ctxErr
	}
	return types.NewAppError(types.ErrCodeInternalRasterRead, "failed to read raster data", err)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
