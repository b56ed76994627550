// Package main implements the search CLI tool, which runs dark-spot
// searches and point queries against a radiance store without the HTTP
// layer.
//
// Usage:
//
//	go run ./cmd/tools/search --raster=./data/radiance.zarr --lat=48.85 --lon=2.35
//	go run ./cmd/tools/search --lat=48.85 --lon=2.35 --radius=50 --count=10
//	go run ./cmd/tools/search --radiance --lat=48.85 --lon=2.35
//	go run ./cmd/tools/search --info
//
// The store defaults to RASTER_URI. Results are printed to stdout as JSON;
// logs go to stderr. Exit status is 2 when a search finds no dark spots.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"darkspot/internal/config"
	"darkspot/internal/darkspot"
	"darkspot/internal/raster"
)

// errNoDarkSpots maps to exit status 2.
var errNoDarkSpots = errors.New("no dark spots found")

type options struct {
	rasterURI string
	lat       float64
	lon       float64
	radiusKM  float64
	count     int
	radiance  bool
	info      bool
}

func main() {
	var o options
	flag.StringVar(&o.rasterURI, "raster", os.Getenv("RASTER_URI"), "Raster location (or RASTER_URI env)")
	flag.Float64Var(&o.lat, "lat", math.NaN(), "Latitude of the query point")
	flag.Float64Var(&o.lon, "lon", math.NaN(), "Longitude of the query point")
	flag.Float64Var(&o.radiusKM, "radius", 0, "Search radius in km (0 selects SEARCH_DEFAULT_RADIUS_KM)")
	flag.IntVar(&o.count, "count", 0, "Number of dark spots (0 selects SEARCH_DEFAULT_COUNT)")
	flag.BoolVar(&o.radiance, "radiance", false, "Print the radiance at the point instead of searching")
	flag.BoolVar(&o.info, "info", false, "Print raster metadata and exit")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, o, os.Stdout, logger)
	switch {
	case err == nil:
	case errors.Is(err, errNoDarkSpots):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, out io.Writer, logger *slog.Logger) error {
	if o.rasterURI == "" {
		return errors.New("--raster or RASTER_URI is required")
	}
	if !o.info && (math.IsNaN(o.lat) || math.IsNaN(o.lon)) {
		return errors.New("--lat and --lon are required")
	}

	svc, err := openService(ctx, o.rasterURI, logger)
	if err != nil {
		return err
	}

	switch {
	case o.info:
		return printJSON(out, svc.RasterInfo())
	case o.radiance:
		r, err := svc.Radiance(ctx, o.lat, o.lon)
		if err != nil {
			return err
		}
		return printJSON(out, r)
	}

	spots, err := svc.FindDarkSpots(ctx, darkspot.Query{
		Lat:      o.lat,
		Lon:      o.lon,
		RadiusKM: o.radiusKM,
		Count:    o.count,
	})
	if err != nil {
		return err
	}
	if len(spots) == 0 {
		return errNoDarkSpots
	}
	return printJSON(out, spots)
}

// openService loads the cmd/api configuration with RASTER_URI set to uri
// and opens the store behind a search service.
func openService(ctx context.Context, uri string, logger *slog.Logger) (*darkspot.Service, error) {
	if err := os.Setenv("RASTER_URI", uri); err != nil {
		return nil, err
	}
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	loc, err := cfg.RasterLocation()
	if err != nil {
		return nil, err
	}
	src, err := raster.OpenSource(ctx, loc, cfg.ConnectConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", loc, err)
	}
	store, err := raster.Open(ctx, src, cfg.StoreOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", loc, err)
	}
	return darkspot.NewService(store, logger,
		darkspot.WithDefaults(cfg.Search.DefaultRadiusKM, cfg.Search.DefaultCount),
		darkspot.WithMaxWindowPixels(cfg.Search.MaxWindowPixels),
	), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
