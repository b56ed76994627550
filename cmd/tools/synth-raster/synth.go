package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"darkspot/internal/raster"
)

// synthParams describes a synthetic radiance field: a constant sky
// background plus Gaussian light domes centred on random towns.
type synthParams struct {
	Height     int
	Width      int
	North      float64
	West       float64
	Resolution float64
	Towns      int
	Background float64
	Seed       uint64
	// NoDataFraction of the rows, counted from the bottom, are NaN.
	NoDataFraction float64
}

// domeSigmas bounds how far a dome is evaluated, in standard deviations.
const domeSigmas = 4

func (p synthParams) validate() error {
	var errs []error
	if p.Height <= 0 || p.Width <= 0 {
		errs = append(errs, fmt.Errorf("grid must be at least 1x1, got %dx%d", p.Height, p.Width))
	}
	if !(p.Resolution > 0) {
		errs = append(errs, fmt.Errorf("resolution must be positive, got %g", p.Resolution))
	}
	if p.North > 90 || p.North-float64(p.Height)*p.Resolution < -90 {
		errs = append(errs, errors.New("grid extends past the poles"))
	}
	if p.Towns < 0 || p.Background < 0 {
		errs = append(errs, errors.New("towns and background must not be negative"))
	}
	if p.NoDataFraction < 0 || p.NoDataFraction >= 1 {
		errs = append(errs, fmt.Errorf("nodata fraction must be in [0, 1), got %g", p.NoDataFraction))
	}
	return errors.Join(errs...)
}

// town is one light source in pixel space.
type town struct {
	row, col float64
	peak     float64
	sigmaPx  float64
}

// synthesize builds the grid described by p. The same parameters always
// produce the same values.
func synthesize(p synthParams) (raster.Geometry, []float32, error) {
	if err := p.validate(); err != nil {
		return raster.Geometry{}, nil, err
	}
	geom := raster.Geometry{
		Height:    p.Height,
		Width:     p.Width,
		Transform: raster.GeoTransform{p.West, p.Resolution, 0, p.North, 0, -p.Resolution},
	}

	values := make([]float32, p.Height*p.Width)
	for i := range values {
		values[i] = float32(p.Background)
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	for _, t := range randomTowns(rng, p) {
		addDome(values, p.Height, p.Width, t)
	}

	if p.NoDataFraction > 0 {
		first := p.Height - int(math.Ceil(float64(p.Height)*p.NoDataFraction))
		nan := float32(math.NaN())
		for i := first * p.Width; i < len(values); i++ {
			values[i] = nan
		}
	}
	return geom, values, nil
}

// randomTowns draws town sizes from a heavy-tailed distribution so a few
// cities dominate and most sources are villages.
func randomTowns(rng *rand.Rand, p synthParams) []town {
	towns := make([]town, p.Towns)
	for i := range towns {
		size := math.Exp(rng.NormFloat64() * 1.2)
		// Dome radius of roughly 5 km per unit of size, at least one pixel.
		sigmaDeg := 0.045 * size
		towns[i] = town{
			row:     rng.Float64() * float64(p.Height),
			col:     rng.Float64() * float64(p.Width),
			peak:    20 * size * size,
			sigmaPx: math.Max(sigmaDeg/p.Resolution, 1),
		}
	}
	return towns
}

// addDome adds a Gaussian of t's peak and width into values, evaluated
// within domeSigmas of the centre.
func addDome(values []float32, height, width int, t town) {
	reach := domeSigmas * t.sigmaPx
	r0 := max(int(t.row-reach), 0)
	r1 := min(int(t.row+reach)+1, height)
	c0 := max(int(t.col-reach), 0)
	c1 := min(int(t.col+reach)+1, width)
	inv := 1 / (2 * t.sigmaPx * t.sigmaPx)
	for r := r0; r < r1; r++ {
		dr := float64(r) + 0.5 - t.row
		for c := c0; c < c1; c++ {
			dc := float64(c) + 0.5 - t.col
			values[r*width+c] += float32(t.peak * math.Exp(-(dr*dr+dc*dc)*inv))
		}
	}
}
