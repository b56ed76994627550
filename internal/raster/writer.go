package raster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ObjectSink stores objects by key; it is the write-side counterpart of
// ChunkSource.
type ObjectSink interface {
	PutObject(ctx context.Context, key string, data []byte) error
}

// DirSink writes objects below a local directory.
type DirSink struct {
	root string
}

// NewDirSink returns a sink rooted at dir, creating it if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirSink{root: dir}, nil
}

func (s *DirSink) PutObject(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.root, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteOptions controls the layout of a written raster.
type WriteOptions struct {
	ChunkRows int
	ChunkCols int
	Codec     string
	Level     int
	DType     string
	// FillValue is recorded in .zarray; nil writes null (NaN).
	FillValue *float64
	// SkipFillChunks omits chunks whose samples all equal the fill value.
	SkipFillChunks bool

	CRS         string
	Variable    string
	Units       string
	Description string
}

func (o WriteOptions) withDefaults(geom Geometry) WriteOptions {
	if o.ChunkRows <= 0 {
		o.ChunkRows = min(geom.Height, 512)
	}
	if o.ChunkCols <= 0 {
		o.ChunkCols = min(geom.Width, 512)
	}
	if o.Codec == "" {
		o.Codec = CodecZstd
	}
	if o.DType == "" {
		o.DType = "<f4"
	}
	return o
}

// Write encodes row-major values as a Zarr v2 array into sink.
func Write(ctx context.Context, sink ObjectSink, geom Geometry, values []float32, opts WriteOptions) error {
	if len(values) != geom.Height*geom.Width {
		return fmt.Errorf("raster: got %d values for a %dx%d grid", len(values), geom.Height, geom.Width)
	}
	opts = opts.withDefaults(geom)

	meta := ArrayMeta{
		ZarrFormat: 2,
		Shape:      []int{geom.Height, geom.Width},
		Chunks:     []int{opts.ChunkRows, opts.ChunkCols},
		DType:      opts.DType,
		Order:      "C",
		FillValue:  json.RawMessage("null"),
	}
	if opts.Codec != CodecNone {
		meta.Compressor = &CompressorSpec{ID: opts.Codec, Level: opts.Level}
	}
	if opts.FillValue != nil {
		raw, err := json.Marshal(*opts.FillValue)
		if err != nil {
			return fmt.Errorf("raster: fill value: %w", err)
		}
		meta.FillValue = raw
	}
	attrs := Attrs{
		GeoTransform: geom.Transform[:],
		CRS:          opts.CRS,
		Variable:     opts.Variable,
		Units:        opts.Units,
		Description:  opts.Description,
	}

	l, err := newLayout(meta, attrs)
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}

	for _, doc := range []struct {
		key string
		v   any
	}{{zarrayKey, meta}, {zattrsKey, attrs}} {
		data, err := json.MarshalIndent(doc.v, "", "  ")
		if err != nil {
			return err
		}
		if err := sink.PutObject(ctx, doc.key, data); err != nil {
			return fmt.Errorf("raster: write %s: %w", doc.key, err)
		}
	}

	rows, cols := l.chunkGrid()
	chunk := make([]float32, l.chunkLen())
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			allFill := fillChunkFrom(chunk, values, l, i, j)
			if allFill && opts.SkipFillChunks {
				continue
			}
			encoded, err := l.codec.Encode(l.dtype.encode(chunk))
			if err != nil {
				return fmt.Errorf("raster: encode chunk %d.%d: %w", i, j, err)
			}
			if err := sink.PutObject(ctx, l.chunkKey(i, j), encoded); err != nil {
				return fmt.Errorf("raster: write chunk %d.%d: %w", i, j, err)
			}
		}
	}
	return nil
}

// WriteLocal writes a raster store into dir.
func WriteLocal(dir string, geom Geometry, values []float32, opts WriteOptions) error {
	sink, err := NewDirSink(dir)
	if err != nil {
		return err
	}
	return Write(context.Background(), sink, geom, values, opts)
}

// fillChunkFrom copies chunk (i, j) out of values, padding past the array edge
// with the fill value. It reports whether every sample equals the fill value.
func fillChunkFrom(chunk, values []float32, l *layout, i, j int) bool {
	allFill := true
	fillNaN := math.IsNaN(float64(l.fill))
	for r := 0; r < l.chunkRows; r++ {
		for c := 0; c < l.chunkCols; c++ {
			gr, gc := i*l.chunkRows+r, j*l.chunkCols+c
			v := l.fill
			if gr < l.geom.Height && gc < l.geom.Width {
				v = values[gr*l.geom.Width+gc]
			}
			chunk[r*l.chunkCols+c] = v
			if fillNaN {
				allFill = allFill && math.IsNaN(float64(v))
			} else {
				allFill = allFill && v == l.fill
			}
		}
	}
	return allFill
}
