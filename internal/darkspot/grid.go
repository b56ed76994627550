// Package darkspot finds the darkest separated locations around a point on a
// radiance raster, and answers single-point radiance queries.
package darkspot

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"darkspot/internal/raster"
)

// IsValidSample reports whether a raster sample is usable. Negative values
// are no-data or cloud-masked; non-finite values never hold a measurement.
func IsValidSample(v float32) bool {
	return v >= 0 && !math.IsInf(float64(v), 1)
}

// SampleGrid is the window of samples read for one search, with the set of
// valid cells stored as flat row-major indices (row*width + col).
type SampleGrid struct {
	Window raster.Window
	Values []float32
	valid  *roaring.Bitmap
}

// NewSampleGrid builds a grid over values read for w. A grid larger than
// 2^32 cells cannot be indexed and is rejected.
func NewSampleGrid(w raster.Window, values []float32) (*SampleGrid, error) {
	if len(values) != w.Size() {
		return nil, fmt.Errorf("darkspot: %d samples for window %s", len(values), w)
	}
	if uint64(len(values)) > math.MaxUint32 {
		return nil, fmt.Errorf("darkspot: window %s is too large to index", w)
	}
	valid := roaring.New()
	for i, v := range values {
		if IsValidSample(v) {
			valid.Add(uint32(i))
		}
	}
	return &SampleGrid{Window: w, Values: values, valid: valid}, nil
}

// emptyGrid is the grid of a window that missed the raster.
func emptyGrid(w raster.Window) *SampleGrid {
	return &SampleGrid{Window: w, valid: roaring.New()}
}

// ValidCount is the number of valid samples.
func (g *SampleGrid) ValidCount() int {
	return int(g.valid.GetCardinality())
}

// At returns the sample at local (row, col).
func (g *SampleGrid) At(row, col int) float32 {
	return g.Values[row*g.Window.Width+col]
}

// Valid reports whether local (row, col) holds a valid sample.
func (g *SampleGrid) Valid(row, col int) bool {
	if row < 0 || col < 0 || row >= g.Window.Height || col >= g.Window.Width {
		return false
	}
	return g.valid.Contains(uint32(row*g.Window.Width + col))
}
