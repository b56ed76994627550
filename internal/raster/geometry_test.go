package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkspot/internal/types"
)

// testGeometry is a 10x10 grid of 0.01 degree pixels anchored at 50N 10E.
func testGeometry() Geometry {
	return Geometry{
		Height:    10,
		Width:     10,
		Transform: GeoTransform{10, 0.01, 0, 50, 0, -0.01},
	}
}

func TestGeoTransform_ApplyInvertRoundTrip(t *testing.T) {
	gt := GeoTransform{-180, 0.25, 0, 90, 0, -0.25}

	lat, lon := gt.Apply(12.5, 100.25)
	row, col, err := gt.Invert(lat, lon)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, row, 1e-9)
	assert.InDelta(t, 100.25, col, 1e-9)
}

func TestGeoTransform_InvertDegenerate(t *testing.T) {
	_, _, err := GeoTransform{0, 0, 0, 0, 0, 0}.Invert(1, 1)
	assert.Error(t, err)
}

func TestGeoTransform_Resolution(t *testing.T) {
	assert.InDelta(t, 0.01, GeoTransform{10, 0.01, 0, 50, 0, -0.01}.Resolution(), 1e-12)
	// Rotated transforms use the column-axis vector length.
	assert.InDelta(t, 5.0, GeoTransform{0, 3, 0, 0, 4, -1}.Resolution(), 1e-12)
}

func TestGeometry_GeoToPixel(t *testing.T) {
	g := testGeometry()

	tests := []struct {
		name     string
		lat, lon float64
		row, col int
	}{
		{"first pixel centre", 49.995, 10.005, 0, 0},
		{"floors fractional position", 49.985, 10.037, 1, 3},
		{"last pixel", 49.905, 10.095, 9, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, col, err := g.GeoToPixel(tt.lat, tt.lon)
			require.NoError(t, err)
			assert.Equal(t, tt.row, row)
			assert.Equal(t, tt.col, col)
		})
	}
}

func TestGeometry_GeoToPixel_OutsideExtent(t *testing.T) {
	g := testGeometry()

	for _, p := range [][2]float64{{51, 10.05}, {49.95, 9.5}, {49.85, 10.05}, {49.95, 10.2}, {math.NaN(), 10}} {
		_, _, err := g.GeoToPixel(p[0], p[1])
		require.Error(t, err, "point %v", p)
		assert.True(t, errors.Is(err, ErrOutOfBounds))

		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeNotFoundOutsideCoverage, appErr.Code)
	}
}

func TestGeometry_PixelToGeo_ReturnsCentre(t *testing.T) {
	g := testGeometry()

	lat, lon, err := g.PixelToGeo(2, 3)
	require.NoError(t, err)
	assert.InDelta(t, 49.975, lat, 1e-9)
	assert.InDelta(t, 10.035, lon, 1e-9)

	_, _, err = g.PixelToGeo(10, 0)
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestGeometry_Bounds(t *testing.T) {
	b := testGeometry().Bounds()
	assert.InDelta(t, 10.0, b.West, 1e-9)
	assert.InDelta(t, 10.1, b.East, 1e-9)
	assert.InDelta(t, 49.9, b.South, 1e-9)
	assert.InDelta(t, 50.0, b.North, 1e-9)
}

func TestGeometry_WindowForBounds(t *testing.T) {
	g := testGeometry()

	tests := []struct {
		name   string
		bounds Bounds
		want   Window
	}{
		{
			name:   "interior box covers every touched pixel",
			bounds: Bounds{West: 10.025, South: 49.945, East: 10.055, North: 49.975},
			want:   Window{RowOff: 2, ColOff: 2, Height: 4, Width: 4},
		},
		{
			name:   "box larger than raster is clipped",
			bounds: Bounds{West: 9.9, South: 49.8, East: 10.2, North: 50.1},
			want:   Window{Height: 10, Width: 10},
		},
		{
			name:   "box overlapping the top-left corner",
			bounds: Bounds{West: 9.95, South: 49.975, East: 10.015, North: 50.05},
			want:   Window{Height: 3, Width: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := g.WindowForBounds(tt.bounds)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w)
		})
	}
}

func TestGeometry_WindowForBounds_Disjoint(t *testing.T) {
	g := testGeometry()

	w, err := g.WindowForBounds(Bounds{West: 20, South: 10, East: 21, North: 11})
	require.NoError(t, err)
	assert.True(t, w.Empty())
	assert.Zero(t, w.Size())
}

func TestWindow_Intersect(t *testing.T) {
	a := Window{RowOff: 2, ColOff: 2, Height: 5, Width: 5}

	assert.Equal(t, Window{RowOff: 4, ColOff: 3, Height: 3, Width: 4}, a.Intersect(Window{RowOff: 4, ColOff: 3, Height: 10, Width: 10}))
	assert.True(t, a.Intersect(Window{RowOff: 20, ColOff: 20, Height: 1, Width: 1}).Empty())
	assert.True(t, a.Contains(6, 6))
	assert.False(t, a.Contains(7, 6))
}
