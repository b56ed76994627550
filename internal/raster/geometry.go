// Package raster implements the read-only radiance raster store: a 2-D Zarr
// v2 array of float samples with an affine geotransform, readable by
// rectangular window or by single pixel from local disk, S3 or MinIO.
package raster

import (
	"errors"
	"fmt"
	"math"

	"darkspot/internal/types"
)

// ErrOutOfBounds is wrapped by every coordinate or window that falls outside
// the raster extent.
var ErrOutOfBounds = errors.New("raster: coordinate outside raster extent")

// GeoTransform is the GDAL-ordered affine transform from pixel space to
// geographic coordinates:
//
//	lon = gt[0] + col*gt[1] + row*gt[2]
//	lat = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// Apply maps a fractional pixel position to geographic coordinates.
func (gt GeoTransform) Apply(row, col float64) (lat, lon float64) {
	lon = gt[0] + col*gt[1] + row*gt[2]
	lat = gt[3] + col*gt[4] + row*gt[5]
	return lat, lon
}

// Invert maps geographic coordinates to a fractional pixel position.
func (gt GeoTransform) Invert(lat, lon float64) (row, col float64, err error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0, fmt.Errorf("raster: geotransform %v is not invertible", [6]float64(gt))
	}
	dx := lon - gt[0]
	dy := lat - gt[3]
	col = (gt[5]*dx - gt[2]*dy) / det
	row = (gt[1]*dy - gt[4]*dx) / det
	return row, col, nil
}

// Resolution returns the pixel size in degrees along the column axis.
func (gt GeoTransform) Resolution() float64 {
	return math.Hypot(gt[1], gt[4])
}

// Bounds is a geographic bounding box in degrees.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Window is a rectangular pixel region. A zero Height or Width is empty.
type Window struct {
	RowOff int `json:"row_off"`
	ColOff int `json:"col_off"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Height <= 0 || w.Width <= 0
}

// Size is the number of pixels covered.
func (w Window) Size() int {
	if w.Empty() {
		return 0
	}
	return w.Height * w.Width
}

// Intersect clips w to o. The result is empty when they do not overlap.
func (w Window) Intersect(o Window) Window {
	r0 := max(w.RowOff, o.RowOff)
	c0 := max(w.ColOff, o.ColOff)
	r1 := min(w.RowOff+w.Height, o.RowOff+o.Height)
	c1 := min(w.ColOff+w.Width, o.ColOff+o.Width)
	if r1 <= r0 || c1 <= c0 {
		return Window{RowOff: r0, ColOff: c0}
	}
	return Window{RowOff: r0, ColOff: c0, Height: r1 - r0, Width: c1 - c0}
}

// Contains reports whether pixel (row, col) lies inside w.
func (w Window) Contains(row, col int) bool {
	return row >= w.RowOff && row < w.RowOff+w.Height &&
		col >= w.ColOff && col < w.ColOff+w.Width
}

func (w Window) String() string {
	return fmt.Sprintf("rows[%d:%d] cols[%d:%d]", w.RowOff, w.RowOff+w.Height, w.ColOff, w.ColOff+w.Width)
}

// Geometry is the fixed shape and georeferencing of a raster.
type Geometry struct {
	Height    int
	Width     int
	Transform GeoTransform
}

// Full returns the window covering the whole raster.
func (g Geometry) Full() Window {
	return Window{Height: g.Height, Width: g.Width}
}

// Resolution returns the pixel size in degrees.
func (g Geometry) Resolution() float64 {
	return g.Transform.Resolution()
}

// GeoToPixel returns the pixel containing (lat, lon), flooring the fractional
// position. Points outside the raster yield a not_found_outside_coverage
// AppError wrapping ErrOutOfBounds.
func (g Geometry) GeoToPixel(lat, lon float64) (row, col int, err error) {
	if !isFinite(lat) || !isFinite(lon) {
		return 0, 0, outOfBounds(lat, lon)
	}
	fr, fc, err := g.Transform.Invert(lat, lon)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeInternalRasterCorrupt, "raster geotransform is degenerate", err)
	}
	row = int(math.Floor(fr))
	col = int(math.Floor(fc))
	if !g.Full().Contains(row, col) {
		return 0, 0, outOfBounds(lat, lon)
	}
	return row, col, nil
}

// PixelToGeo returns the geographic centre of pixel (row, col).
func (g Geometry) PixelToGeo(row, col int) (lat, lon float64, err error) {
	if !g.Full().Contains(row, col) {
		return 0, 0, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundOutsideCoverage,
			"pixel is outside the raster",
			ErrOutOfBounds,
			map[string]any{"row": row, "col": col},
		)
	}
	lat, lon = g.Transform.Apply(float64(row)+0.5, float64(col)+0.5)
	return lat, lon, nil
}

// Bounds returns the geographic envelope of the raster.
func (g Geometry) Bounds() Bounds {
	return g.envelope(0, 0, float64(g.Height), float64(g.Width))
}

// WindowForBounds converts a geographic box to the pixel window covering it,
// clipped to the raster. Offsets floor the fractional top-left corner and the
// far edges ceil the bottom-right one, so every pixel touched by the box is
// included. The result may be empty.
func (g Geometry) WindowForBounds(b Bounds) (Window, error) {
	corners := [4][2]float64{
		{b.North, b.West},
		{b.North, b.East},
		{b.South, b.West},
		{b.South, b.East},
	}
	minRow, minCol := math.Inf(1), math.Inf(1)
	maxRow, maxCol := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		r, col, err := g.Transform.Invert(c[0], c[1])
		if err != nil {
			return Window{}, types.NewAppError(types.ErrCodeInternalRasterCorrupt, "raster geotransform is degenerate", err)
		}
		minRow, maxRow = math.Min(minRow, r), math.Max(maxRow, r)
		minCol, maxCol = math.Min(minCol, col), math.Max(maxCol, col)
	}
	if !isFinite(minRow) || !isFinite(maxRow) || !isFinite(minCol) || !isFinite(maxCol) {
		return Window{}, nil
	}

	// Clamp before converting so huge boxes cannot overflow int.
	clamp := func(v float64, hi int) int {
		return int(math.Max(0, math.Min(v, float64(hi))))
	}
	r0 := clamp(math.Floor(minRow), g.Height)
	c0 := clamp(math.Floor(minCol), g.Width)
	r1 := clamp(math.Ceil(maxRow), g.Height)
	c1 := clamp(math.Ceil(maxCol), g.Width)

	w := Window{RowOff: r0, ColOff: c0, Height: r1 - r0, Width: c1 - c0}
	if w.Empty() {
		return Window{RowOff: r0, ColOff: c0}, nil
	}
	return w, nil
}

func (g Geometry) envelope(r0, c0, r1, c1 float64) Bounds {
	b := Bounds{West: math.Inf(1), South: math.Inf(1), East: math.Inf(-1), North: math.Inf(-1)}
	for _, p := range [4][2]float64{{r0, c0}, {r0, c1}, {r1, c0}, {r1, c1}} {
		lat, lon := g.Transform.Apply(p[0], p[1])
		b.West, b.East = math.Min(b.West, lon), math.Max(b.East, lon)
		b.South, b.North = math.Min(b.South, lat), math.Max(b.North, lat)
	}
	return b
}

func outOfBounds(lat, lon float64) error {
	if !isFinite(lat) || !isFinite(lon) {
		return types.NewAppError(types.ErrCodeNotFoundOutsideCoverage, "coordinate is not a finite number", ErrOutOfBounds)
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeNotFoundOutsideCoverage,
		"coordinate is outside the map coverage",
		ErrOutOfBounds,
		map[string]any{"lat": lat, "lon": lon},
	)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
