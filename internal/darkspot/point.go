package darkspot

import (
	"context"
	"math"
)

// Radiance is the result of a single-point query. Value is nil when the
// pixel holds a non-finite sample.
type Radiance struct {
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Row   int      `json:"row"`
	Col   int      `json:"col"`
	Value *float64 `json:"value"`
	Valid bool     `json:"valid"`
}

// PointQuery reads the sample of the pixel containing (lat, lon). The value
// is returned as stored, including negative no-data markers, with Valid
// telling whether it is a usable measurement.
func PointQuery(ctx context.Context, r Raster, lat, lon float64) (Radiance, error) {
	row, col, err := r.Geometry().GeoToPixel(lat, lon)
	if err != nil {
		return Radiance{}, err
	}
	v, err := r.ReadPixel(ctx, row, col)
	if err != nil {
		return Radiance{}, err
	}

	res := Radiance{Lat: lat, Lon: lon, Row: row, Col: col, Valid: IsValidSample(v)}
	if f := float64(v); !math.IsNaN(f) && !math.IsInf(f, 0) {
		res.Value = &f
	}
	return res, nil
}
