package raster

import (
	"context"
	"fmt"

	"darkspot/internal/types"
)

// Memory is an in-memory raster with the same read surface as Store. It backs
// tests and small fixtures.
type Memory struct {
	geom   Geometry
	values []float32

	// ReadErr, when set, is returned by every read.
	ReadErr error
}

// NewMemory wraps row-major values of the given geometry.
func NewMemory(geom Geometry, values []float32) (*Memory, error) {
	if geom.Height <= 0 || geom.Width <= 0 {
		return nil, fmt.Errorf("raster: invalid shape %dx%d", geom.Height, geom.Width)
	}
	if len(values) != geom.Height*geom.Width {
		return nil, fmt.Errorf("raster: got %d values for a %dx%d grid", len(values), geom.Height, geom.Width)
	}
	return &Memory{geom: geom, values: values}, nil
}

func (m *Memory) Geometry() Geometry {
	return m.geom
}

func (m *Memory) Info() Info {
	return Info{
		Source:     "memory",
		Height:     m.geom.Height,
		Width:      m.geom.Width,
		ChunkRows:  m.geom.Height,
		ChunkCols:  m.geom.Width,
		DType:      "<f4",
		Codec:      CodecNone,
		Resolution: m.geom.Resolution(),
		Bounds:     m.geom.Bounds(),
		Transform:  m.geom.Transform,
	}
}

func (m *Memory) ReadWindow(ctx context.Context, w Window) ([]float32, error) {
	if err := m.readable(ctx); err != nil {
		return nil, err
	}
	if w.Empty() {
		return []float32{}, nil
	}
	if w.Intersect(m.geom.Full()) != w {
		return nil, types.NewAppError(types.ErrCodeNotFoundOutsideCoverage, "window is outside the raster", ErrOutOfBounds)
	}
	out := make([]float32, 0, w.Size())
	for r := w.RowOff; r < w.RowOff+w.Height; r++ {
		start := r*m.geom.Width + w.ColOff
		out = append(out, m.values[start:start+w.Width]...)
	}
	return out, nil
}

func (m *Memory) ReadPixel(ctx context.Context, row, col int) (float32, error) {
	if err := m.readable(ctx); err != nil {
		return 0, err
	}
	if !m.geom.Full().Contains(row, col) {
		return 0, types.NewAppError(types.ErrCodeNotFoundOutsideCoverage, "pixel is outside the raster", ErrOutOfBounds)
	}
	return m.values[row*m.geom.Width+col], nil
}

func (m *Memory) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return types.FromContextError(err)
	}
	if m.ReadErr != nil {
		return types.NewAppError(types.ErrCodeInternalRasterRead, "failed to read raster data", m.ReadErr)
	}
	return nil
}
