package darkspot

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"darkspot/internal/raster"
)

// KmPerDegree converts kilometres to degrees in both axes. It ignores the
// shrinking of longitude degrees away from the equator.
const KmPerDegree = 111.0

// exclusionDivisor sets the exclusion half-width to a quarter of the search
// radius.
const exclusionDivisor = 4.0

// DarkSpot is one result: the centre of the chosen pixel and its sample.
type DarkSpot struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Value float64 `json:"value"`

	// Global pixel position, for diagnostics.
	Row int `json:"-"`
	Col int `json:"-"`
}

// Pixel is a selected cell in global raster coordinates.
type Pixel struct {
	Row   int
	Col   int
	Value float32
}

// ExclusionRadius returns the half-width in pixels of the square suppressed
// around each accepted spot: a quarter of the search radius, at least 1.
func ExclusionRadius(radiusKM, resolutionDeg float64) int {
	if !(resolutionDeg > 0) || math.IsInf(resolutionDeg, 0) {
		return 1
	}
	m := math.Floor(radiusKM / exclusionDivisor / KmPerDegree / resolutionDeg)
	if !(m >= 1) {
		return 1
	}
	if m > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(m)
}

// SelectMinima greedily picks up to count separated minima from grid. Each
// round takes the smallest remaining valid sample (ties go to the first in
// row-major order) and removes the (2m+1)x(2m+1) square around it. The
// grid itself is never modified.
func SelectMinima(grid *SampleGrid, maskRadius, count int) []Pixel {
	if count <= 0 || grid.ValidCount() == 0 {
		return []Pixel{}
	}
	maskRadius = max(maskRadius, 1)
	remaining := grid.valid.Clone()
	width := grid.Window.Width
	height := grid.Window.Height

	spots := make([]Pixel, 0, count)
	for len(spots) < count && !remaining.IsEmpty() {
		idx, value := argmin(remaining, grid.Values)
		row, col := int(idx)/width, int(idx)%width
		spots = append(spots, Pixel{
			Row:   grid.Window.RowOff + row,
			Col:   grid.Window.ColOff + col,
			Value: value,
		})

		r0, r1 := max(row-maskRadius, 0), min(row+maskRadius, height-1)
		c0, c1 := max(col-maskRadius, 0), min(col+maskRadius, width-1)
		for r := r0; r <= r1; r++ {
			base := uint64(r * width)
			remaining.RemoveRange(base+uint64(c0), base+uint64(c1)+1)
		}
	}
	return spots
}

// argmin scans set in ascending index order; the strict comparison keeps the
// earliest index among equal values.
func argmin(set *roaring.Bitmap, values []float32) (uint32, float32) {
	it := set.Iterator()
	best := it.Next()
	bestVal := values[best]
	for it.HasNext() {
		i := it.Next()
		if v := values[i]; v < bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}

// Search runs SelectMinima with the exclusion radius derived from radiusKM
// and geom's resolution, and converts the picks to geographic spots.
func Search(grid *SampleGrid, geom raster.Geometry, radiusKM float64, count int) ([]DarkSpot, error) {
	mask := ExclusionRadius(radiusKM, geom.Resolution())
	pixels := SelectMinima(grid, mask, count)

	spots := make([]DarkSpot, 0, len(pixels))
	for _, p := range pixels {
		lat, lon, err := geom.PixelToGeo(p.Row, p.Col)
		if err != nil {
			return nil, err
		}
		spots = append(spots, DarkSpot{
			Lat:   lat,
			Lon:   lon,
			Value: float64(p.Value),
			Row:   p.Row,
			Col:   p.Col,
		})
	}
	return spots, nil
}
