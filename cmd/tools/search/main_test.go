package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"darkspot/internal/raster"
)

// writeStore writes a 5x5 grid of 10s with a 3 in the centre and a 4 in the
// top-left corner, 0.01 degree pixels from 50N 10E.
func writeStore(t *testing.T) string {
	t.Helper()
	vals := make([]float32, 25)
	for i := range vals {
		vals[i] = 10
	}
	vals[12] = 3
	vals[0] = 4
	geom := raster.Geometry{Height: 5, Width: 5, Transform: raster.GeoTransform{10, 0.01, 0, 50, 0, -0.01}}

	dir := filepath.Join(t.TempDir(), "radiance.zarr")
	if err := raster.WriteLocal(dir, geom, vals, raster.WriteOptions{ChunkRows: 2, ChunkCols: 2}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_ENV", "local")
	t.Setenv("RASTER_URI", "")
	return dir
}

func runTool(t *testing.T, o options) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), o, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return out.String(), err
}

func TestRun_Search(t *testing.T) {
	dir := writeStore(t)

	out, err := runTool(t, options{rasterURI: dir, lat: 49.975, lon: 10.025, radiusKM: 14})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var spots []struct{ Lat, Lon, Value float64 }
	if err := json.Unmarshal([]byte(out), &spots); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(spots) != 1 || spots[0].Value != 3 {
		t.Errorf("spots = %+v", spots)
	}
}

func TestRun_NoDarkSpots(t *testing.T) {
	dir := writeStore(t)

	_, err := runTool(t, options{rasterURI: dir, lat: 0, lon: 0, radiusKM: 10})
	if !errors.Is(err, errNoDarkSpots) {
		t.Fatalf("err = %v, want errNoDarkSpots", err)
	}
}

func TestRun_Radiance(t *testing.T) {
	dir := writeStore(t)

	out, err := runTool(t, options{rasterURI: dir, lat: 49.995, lon: 10.005, radiance: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"value": 4`) || !strings.Contains(out, `"valid": true`) {
		t.Errorf("output = %s", out)
	}
}

func TestRun_Info(t *testing.T) {
	dir := writeStore(t)

	out, err := runTool(t, options{rasterURI: dir, lat: math.NaN(), lon: math.NaN(), info: true})
	if err != nil {
		t.Fatal(err)
	}
	var info raster.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatal(err)
	}
	if info.Height != 5 || info.ChunkRows != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestRun_ArgumentErrors(t *testing.T) {
	if _, err := runTool(t, options{lat: 1, lon: 1}); err == nil {
		t.Error("expected error without a raster")
	}
	if _, err := runTool(t, options{rasterURI: "/tmp/x", lat: math.NaN(), lon: 1}); err == nil {
		t.Error("expected error without a latitude")
	}
}
