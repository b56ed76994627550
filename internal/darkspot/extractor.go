package darkspot

import (
	"context"
	"fmt"

	"darkspot/internal/raster"
	"darkspot/internal/types"
)

// Raster is the read surface the search needs. *raster.Store and
// *raster.Memory both satisfy it.
type Raster interface {
	Geometry() raster.Geometry
	Info() raster.Info
	ReadWindow(ctx context.Context, w raster.Window) ([]float32, error)
	ReadPixel(ctx context.Context, row, col int) (float32, error)
}

// SearchBounds is the square box of half-width radiusKM/111 degrees centred
// on (lat, lon).
func SearchBounds(lat, lon, radiusKM float64) raster.Bounds {
	half := radiusKM / KmPerDegree
	return raster.Bounds{
		West:  lon - half,
		South: lat - half,
		East:  lon + half,
		North: lat + half,
	}
}

// Extractor turns a search centre and radius into a SampleGrid.
type Extractor struct {
	raster    Raster
	maxPixels int
}

// NewExtractor returns an Extractor over r. maxPixels caps the window size;
// zero means no cap.
func NewExtractor(r Raster, maxPixels int) *Extractor {
	return &Extractor{raster: r, maxPixels: maxPixels}
}

// Window computes the clipped pixel window for the search box.
func (e *Extractor) Window(lat, lon, radiusKM float64) (raster.Window, error) {
	w, err := e.raster.Geometry().WindowForBounds(SearchBounds(lat, lon, radiusKM))
	if err != nil {
		return raster.Window{}, err
	}
	if e.maxPixels > 0 && w.Size() > e.maxPixels {
		return raster.Window{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationRadiusTooLarge,
			fmt.Sprintf("search area of %d pixels exceeds the limit of %d", w.Size(), e.maxPixels),
			nil,
			map[string]any{"radius_km": radiusKM, "pixels": w.Size(), "max_pixels": e.maxPixels},
		)
	}
	return w, nil
}

// Extract reads the samples of the search box. A box that misses the raster
// yields an empty grid and no error.
func (e *Extractor) Extract(ctx context.Context, lat, lon, radiusKM float64) (*SampleGrid, error) {
	w, err := e.Window(lat, lon, radiusKM)
	if err != nil {
		return nil, err
	}
	if w.Empty() {
		return emptyGrid(w), nil
	}
	values, err := e.raster.ReadWindow(ctx, w)
	if err != nil {
		return nil, err
	}
	return NewSampleGrid(w, values)
}
