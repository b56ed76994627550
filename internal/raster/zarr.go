package raster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	zarrayKey = ".zarray"
	zattrsKey = ".zattrs"
)

// ArrayMeta is the subset of Zarr v2 .zarray metadata the store understands.
type ArrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *CompressorSpec `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []any           `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// CompressorSpec is a numcodecs compressor configuration.
type CompressorSpec struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// Attrs holds the georeferencing attributes stored in .zattrs.
type Attrs struct {
	GeoTransform []float64 `json:"geotransform"`
	CRS          string    `json:"crs,omitempty"`
	Variable     string    `json:"variable,omitempty"`
	Units        string    `json:"units,omitempty"`
	Description  string    `json:"description,omitempty"`
}

// dtype describes how raw chunk bytes decode into samples.
type dtype struct {
	name  string
	size  int
	order binary.ByteOrder
}

func parseDType(s string) (dtype, error) {
	switch s {
	case "<f4":
		return dtype{s, 4, binary.LittleEndian}, nil
	case ">f4":
		return dtype{s, 4, binary.BigEndian}, nil
	case "<f8":
		return dtype{s, 8, binary.LittleEndian}, nil
	case ">f8":
		return dtype{s, 8, binary.BigEndian}, nil
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
}

// decode converts raw bytes into float32 samples.
func (d dtype) decode(data []byte, want int) ([]float32, error) {
	if len(data) != want*d.size {
		return nil, fmt.Errorf("chunk holds %d bytes, want %d (%d x %s)", len(data), want*d.size, want, d.name)
	}
	out := make([]float32, want)
	switch d.size {
	case 4:
		for i := range out {
			out[i] = math.Float32frombits(d.order.Uint32(data[i*4:]))
		}
	case 8:
		for i := range out {
			out[i] = float32(math.Float64frombits(d.order.Uint64(data[i*8:])))
		}
	}
	return out, nil
}

// encode is the inverse of decode, used by the writer.
func (d dtype) encode(values []float32) []byte {
	out := make([]byte, len(values)*d.size)
	switch d.size {
	case 4:
		for i, v := range values {
			d.order.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case 8:
		for i, v := range values {
			d.order.PutUint64(out[i*8:], math.Float64bits(float64(v)))
		}
	}
	return out
}

// parseFillValue decodes a Zarr fill_value. Null means NaN, and the Zarr
// string spellings of the non-finite values are accepted.
func parseFillValue(raw json.RawMessage) (float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return float32(math.NaN()), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "NaN":
			return float32(math.NaN()), nil
		case "Infinity":
			return float32(math.Inf(1)), nil
		case "-Infinity":
			return float32(math.Inf(-1)), nil
		default:
			return 0, fmt.Errorf("unsupported fill_value %q", s)
		}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("invalid fill_value %s: %w", raw, err)
	}
	return float32(f), nil
}

// layout is the validated, derived form of ArrayMeta and Attrs.
type layout struct {
	geom      Geometry
	chunkRows int
	chunkCols int
	dtype     dtype
	codec     Codec
	fill      float32
	fortran   bool
	sep       string
}

func newLayout(meta ArrayMeta, attrs Attrs) (*layout, error) {
	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format %d", meta.ZarrFormat)
	}
	if len(meta.Shape) != 2 || len(meta.Chunks) != 2 {
		return nil, fmt.Errorf("expected a 2-D array, got shape=%v chunks=%v", meta.Shape, meta.Chunks)
	}
	if meta.Shape[0] <= 0 || meta.Shape[1] <= 0 || meta.Chunks[0] <= 0 || meta.Chunks[1] <= 0 {
		return nil, fmt.Errorf("non-positive dimensions: shape=%v chunks=%v", meta.Shape, meta.Chunks)
	}
	if len(meta.Filters) > 0 {
		return nil, fmt.Errorf("zarr filters are not supported")
	}
	dt, err := parseDType(meta.DType)
	if err != nil {
		return nil, err
	}
	codec, err := codecFor(meta.Compressor)
	if err != nil {
		return nil, err
	}
	fill, err := parseFillValue(meta.FillValue)
	if err != nil {
		return nil, err
	}
	var fortran bool
	switch strings.ToUpper(meta.Order) {
	case "", "C":
	case "F":
		fortran = true
	default:
		return nil, fmt.Errorf("unsupported order %q", meta.Order)
	}
	sep := meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	if sep != "." && sep != "/" {
		return nil, fmt.Errorf("unsupported dimension_separator %q", sep)
	}
	if len(attrs.GeoTransform) != 6 {
		return nil, fmt.Errorf(".zattrs geotransform must have 6 coefficients, got %d", len(attrs.GeoTransform))
	}
	var gt GeoTransform
	copy(gt[:], attrs.GeoTransform)
	if gt[1]*gt[5]-gt[2]*gt[4] == 0 {
		return nil, fmt.Errorf("geotransform %v is not invertible", attrs.GeoTransform)
	}

	return &layout{
		geom:      Geometry{Height: meta.Shape[0], Width: meta.Shape[1], Transform: gt},
		chunkRows: meta.Chunks[0],
		chunkCols: meta.Chunks[1],
		dtype:     dt,
		codec:     codec,
		fill:      fill,
		fortran:   fortran,
		sep:       sep,
	}, nil
}

func (l *layout) chunkKey(i, j int) string {
	return fmt.Sprintf("%d%s%d", i, l.sep, j)
}

func (l *layout) chunkLen() int {
	return l.chunkRows * l.chunkCols
}

// chunkGrid is the number of chunks along each axis.
func (l *layout) chunkGrid() (rows, cols int) {
	return (l.geom.Height + l.chunkRows - 1) / l.chunkRows, (l.geom.Width + l.chunkCols - 1) / l.chunkCols
}

// at returns the sample at local position (r, c) of a decoded chunk.
func (l *layout) at(chunk []float32, r, c int) float32 {
	if l.fortran {
		return chunk[c*l.chunkRows+r]
	}
	return chunk[r*l.chunkCols+c]
}
