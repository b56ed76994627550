// Package main implements the synth-raster CLI tool, which writes a
// synthetic night-sky radiance store for local development, load tests and
// demo environments.
//
// Usage:
//
//	go run ./cmd/tools/synth-raster --out=./data/radiance.zarr
//	go run ./cmd/tools/synth-raster --out=s3://darkspot-dev/radiance.zarr --codec=lz4
//	go run ./cmd/tools/synth-raster --out=minio://rasters/radiance.zarr --north=60 --west=-10 --res=0.01 --height=2000 --width=3000
//
// The output location follows the RASTER_URI syntax. Remote targets use the
// same AWS and MinIO settings as cmd/api (AWS_REGION, AWS_ENDPOINT_URL,
// MINIO_*), resolved through SSM when APP_ENV is not local.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"darkspot/internal/config"
	"darkspot/internal/raster"
)

func main() {
	out := flag.String("out", os.Getenv("RASTER_URI"), "Output location: path, file://, s3:// or minio:// (or RASTER_URI env)")
	height := flag.Int("height", 720, "Rows")
	width := flag.Int("width", 1440, "Columns")
	north := flag.Float64("north", 90, "Latitude of the top edge")
	west := flag.Float64("west", -180, "Longitude of the left edge")
	res := flag.Float64("res", 0.25, "Pixel size in degrees")
	towns := flag.Int("towns", 400, "Number of light sources")
	background := flag.Float64("background", 0.15, "Natural sky brightness floor")
	seed := flag.Uint64("seed", 1, "Random seed")
	chunk := flag.Int("chunk", 256, "Chunk edge length in pixels")
	codec := flag.String("codec", raster.CodecZstd, "Chunk codec: none, zstd, gzip, zlib or lz4")
	level := flag.Int("level", 0, "Codec level (0 selects the codec default)")
	dtype := flag.String("dtype", "<f4", "Sample type: <f4, >f4, <f8 or >f8")
	nodata := flag.Float64("nodata-fraction", 0, "Fraction of rows left without data at the bottom edge")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *out == "" {
		logger.Error("--out or RASTER_URI is required")
		os.Exit(1)
	}

	params := synthParams{
		Height:         *height,
		Width:          *width,
		North:          *north,
		West:           *west,
		Resolution:     *res,
		Towns:          *towns,
		Background:     *background,
		Seed:           *seed,
		NoDataFraction: *nodata,
	}
	opts := raster.WriteOptions{
		ChunkRows:      *chunk,
		ChunkCols:      *chunk,
		Codec:          *codec,
		Level:          *level,
		DType:          *dtype,
		SkipFillChunks: true,
		CRS:            "EPSG:4326",
		Variable:       "radiance",
		Units:          "nW/cm2/sr",
		Description:    fmt.Sprintf("synthetic radiance (seed %d, %d towns)", *seed, *towns),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *out, params, opts, logger); err != nil {
		logger.Error("synth-raster failed", "error", err)
		os.Exit(1)
	}
}

// run synthesizes the grid and writes it to the location named by out.
func run(ctx context.Context, out string, params synthParams, opts raster.WriteOptions, logger *slog.Logger) error {
	loc, err := raster.ParseLocation(out)
	if err != nil {
		return err
	}

	cc, err := connectConfig(out, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	geom, values, err := synthesize(params)
	if err != nil {
		return err
	}
	logger.Info("grid synthesized",
		"height", geom.Height,
		"width", geom.Width,
		"resolution_deg", geom.Resolution(),
		"duration", time.Since(start),
	)

	sink, err := raster.OpenSink(ctx, loc, cc)
	if err != nil {
		return fmt.Errorf("opening %s: %w", loc, err)
	}
	start = time.Now()
	if err := raster.Write(ctx, sink, geom, values, opts); err != nil {
		return fmt.Errorf("writing %s: %w", loc, err)
	}
	logger.Info("raster written", "location", loc.String(), "codec", opts.Codec, "duration", time.Since(start))
	return nil
}

// connectConfig loads the storage settings of cmd/api with RASTER_URI
// pointed at the output location.
func connectConfig(out string, logger *slog.Logger) (raster.ConnectConfig, error) {
	if err := os.Setenv("RASTER_URI", out); err != nil {
		return raster.ConnectConfig{}, err
	}
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return raster.ConnectConfig{}, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg.ConnectConfig(logger), nil
}
