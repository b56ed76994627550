package raster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"darkspot/internal/types"
)

// Options tunes a Store. Zero values select the defaults.
type Options struct {
	// CacheBytes bounds the decoded-chunk LRU.
	CacheBytes int64
	// MaxConcurrentReads bounds concurrent ReadWindow calls.
	MaxConcurrentReads int64
	// FetchConcurrency bounds parallel chunk fetches within one window read.
	FetchConcurrency int
	// FetchTimeout bounds one shared chunk fetch. The fetch is detached from
	// the caller that started it, so this is its only deadline.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultOptions returns the defaults applied by Open.
func DefaultOptions() Options {
	return Options{
		CacheBytes:         256 << 20,
		MaxConcurrentReads: 16,
		FetchConcurrency:   8,
		FetchTimeout:       20 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CacheBytes <= 0 {
		o.CacheBytes = d.CacheBytes
	}
	if o.MaxConcurrentReads <= 0 {
		o.MaxConcurrentReads = d.MaxConcurrentReads
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = d.FetchConcurrency
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Info describes an open raster.
type Info struct {
	Source      string     `json:"source"`
	Height      int        `json:"height"`
	Width       int        `json:"width"`
	ChunkRows   int        `json:"chunk_rows"`
	ChunkCols   int        `json:"chunk_cols"`
	DType       string     `json:"dtype"`
	Codec       string     `json:"codec"`
	FillValue   *float64   `json:"fill_value"`
	Resolution  float64    `json:"resolution_deg"`
	Bounds      Bounds     `json:"bounds"`
	Transform   [6]float64 `json:"geotransform"`
	CRS         string     `json:"crs,omitempty"`
	Variable    string     `json:"variable,omitempty"`
	Units       string     `json:"units,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Store is a read-only Zarr raster. It is safe for concurrent use; the
// underlying data never changes after Open.
type Store struct {
	src    ChunkSource
	layout *layout
	attrs  Attrs
	info   Info

	cache     *chunkCache
	group     singleflight.Group
	reads     *semaphore.Weighted
	fetchers  int
	timeout   time.Duration
	fillChunk []float32
	logger    *slog.Logger
}

// Open loads the array metadata from src and returns a ready Store.
func Open(ctx context.Context, src ChunkSource, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	var meta ArrayMeta
	if err := loadJSON(ctx, src, zarrayKey, &meta); err != nil {
		return nil, err
	}
	var attrs Attrs
	if err := loadJSON(ctx, src, zattrsKey, &attrs); err != nil {
		return nil, err
	}
	l, err := newLayout(meta, attrs)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRasterCorrupt, "invalid raster metadata", err)
	}

	fill := make([]float32, l.chunkLen())
	for i := range fill {
		fill[i] = l.fill
	}

	s := &Store{
		src:       src,
		layout:    l,
		attrs:     attrs,
		cache:     newChunkCache(opts.CacheBytes),
		reads:     semaphore.NewWeighted(opts.MaxConcurrentReads),
		fetchers:  opts.FetchConcurrency,
		timeout:   opts.FetchTimeout,
		fillChunk: fill,
		logger:    opts.Logger,
	}
	s.info = s.buildInfo()

	s.logger.Info("raster store opened",
		"source", s.info.Source,
		"height", s.info.Height,
		"width", s.info.Width,
		"chunks", fmt.Sprintf("%dx%d", l.chunkRows, l.chunkCols),
		"codec", l.codec.ID(),
		"resolution_deg", s.info.Resolution,
	)
	return s, nil
}

// Geometry returns the raster shape and transform.
func (s *Store) Geometry() Geometry {
	return s.layout.geom
}

// Info returns descriptive metadata.
func (s *Store) Info() Info {
	return s.info
}

// CacheStats returns chunk cache counters.
func (s *Store) CacheStats() CacheStats {
	return s.cache.Stats()
}

// Ping re-reads the array metadata to confirm the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := readObject(ctx, s.src, zarrayKey)
	return err
}

// ReadWindow returns the samples of w in row-major order. w must lie within
// the raster; an empty window yields an empty slice.
func (s *Store) ReadWindow(ctx context.Context, w Window) ([]float32, error) {
	if w.Empty() {
		return []float32{}, nil
	}
	if w.Intersect(s.layout.geom.Full()) != w {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundOutsideCoverage,
			"window is outside the raster",
			ErrOutOfBounds,
			map[string]any{"window": w.String()},
		)
	}

	if err := s.reads.Acquire(ctx, 1); err != nil {
		return nil, types.FromContextError(err)
	}
	defer s.reads.Release(1)

	l := s.layout
	i0, i1 := w.RowOff/l.chunkRows, (w.RowOff+w.Height-1)/l.chunkRows
	j0, j1 := w.ColOff/l.chunkCols, (w.ColOff+w.Width-1)/l.chunkCols

	out := make([]float32, w.Size())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchers)
	for i := i0; i <= i1; i++ {
		for j := j0; j <= j1; j++ {
			g.Go(func() error {
				chunk, err := s.chunk(gctx, i, j)
				if err != nil {
					return err
				}
				// Each chunk writes a disjoint region of out.
				s.copyChunk(out, w, chunk, i, j)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadPixel returns the sample at (row, col).
func (s *Store) ReadPixel(ctx context.Context, row, col int) (float32, error) {
	l := s.layout
	if !l.geom.Full().Contains(row, col) {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundOutsideCoverage,
			"pixel is outside the raster",
			ErrOutOfBounds,
			map[string]any{"row": row, "col": col},
		)
	}
	chunk, err := s.chunk(ctx, row/l.chunkRows, col/l.chunkCols)
	if err != nil {
		return 0, err
	}
	return l.at(chunk, row%l.chunkRows, col%l.chunkCols), nil
}

func (s *Store) copyChunk(out []float32, w Window, chunk []float32, i, j int) {
	l := s.layout
	chunkR0, chunkC0 := i*l.chunkRows, j*l.chunkCols
	r0 := max(w.RowOff, chunkR0)
	r1 := min(w.RowOff+w.Height, chunkR0+l.chunkRows)
	c0 := max(w.ColOff, chunkC0)
	c1 := min(w.ColOff+w.Width, chunkC0+l.chunkCols)

	for r := r0; r < r1; r++ {
		dst := out[(r-w.RowOff)*w.Width+(c0-w.ColOff) : (r-w.RowOff)*w.Width+(c1-w.ColOff)]
		if !l.fortran {
			start := (r-chunkR0)*l.chunkCols + (c0 - chunkC0)
			copy(dst, chunk[start:start+(c1-c0)])
			continue
		}
		for c := c0; c < c1; c++ {
			dst[c-c0] = l.at(chunk, r-chunkR0, c-chunkC0)
		}
	}
}

// chunk returns decoded chunk (i, j), collapsing concurrent misses. The
// shared fetch outlives any single caller; each caller stops waiting when its
// own ctx ends.
func (s *Store) chunk(ctx context.Context, i, j int) ([]float32, error) {
	id := chunkID{i, j}
	if v, ok := s.cache.Get(id); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, types.FromContextError(err)
	}
	key := s.layout.chunkKey(i, j)
	ch := s.group.DoChan(key, func() (any, error) {
		// A flight that finished after our Get may already have cached it.
		if vals, ok := s.cache.peek(id); ok {
			return vals, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		vals, err := s.fetchChunk(fctx, key)
		if err != nil {
			return nil, err
		}
		s.cache.Set(id, vals)
		return vals, nil
	})
	select {
	case <-ctx.Done():
		return nil, types.FromContextError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

func (s *Store) fetchChunk(ctx context.Context, key string) ([]float32, error) {
	l := s.layout
	raw, err := readObject(ctx, s.src, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.fillChunk, nil
		}
		if types.IsContextError(err) {
			s.logger.Warn("raster chunk fetch timed out", "chunk", key, "source", s.info.Source, "timeout", s.timeout)
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamStorage,
				"raster storage did not respond in time",
				err,
				map[string]any{"chunk": key},
			)
		}
		s.logger.Error("raster chunk fetch failed", "chunk", key, "source", s.info.Source, "error", err)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInternalRasterRead,
			"failed to read raster data",
			err,
			map[string]any{"chunk": key},
		)
	}
	decoded, err := l.codec.Decode(raw, l.chunkLen()*l.dtype.size)
	if err != nil {
		return nil, corruptChunk(key, err)
	}
	vals, err := l.dtype.decode(decoded, l.chunkLen())
	if err != nil {
		return nil, corruptChunk(key, err)
	}
	return vals, nil
}

func corruptChunk(key string, err error) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalRasterCorrupt,
		"raster chunk is corrupt",
		err,
		map[string]any{"chunk": key},
	)
}

func loadJSON(ctx context.Context, src ChunkSource, key string, dst any) error {
	data, err := readObject(ctx, src, key)
	if err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodeInternalRasterRead,
			"failed to read raster metadata",
			err,
			map[string]any{"key": key, "source": describe(src)},
		)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodeInternalRasterCorrupt,
			"failed to parse raster metadata",
			err,
			map[string]any{"key": key},
		)
	}
	return nil
}

func (s *Store) buildInfo() Info {
	l := s.layout
	info := Info{
		Source:      describe(s.src),
		Height:      l.geom.Height,
		Width:       l.geom.Width,
		ChunkRows:   l.chunkRows,
		ChunkCols:   l.chunkCols,
		DType:       l.dtype.name,
		Codec:       l.codec.ID(),
		Resolution:  l.geom.Resolution(),
		Bounds:      l.geom.Bounds(),
		Transform:   l.geom.Transform,
		CRS:         s.attrs.CRS,
		Variable:    s.attrs.Variable,
		Units:       s.attrs.Units,
		Description: s.attrs.Description,
	}
	if f := float64(l.fill); !math.IsNaN(f) && !math.IsInf(f, 0) {
		info.FillValue = &f
	}
	return info
}
