package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by a ChunkSource when the key does not exist. The
// store reads a missing chunk as all fill_value.
var ErrNotFound = errors.New("raster: object not found")

// ChunkSource fetches raw objects (metadata documents and encoded chunks) by
// key relative to the store root.
type ChunkSource interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// Describer is implemented by sources that can name their backing location.
type Describer interface {
	Describe() string
}

// FileSource reads a Zarr store from a local directory.
type FileSource struct {
	root string
}

// NewFileSource returns a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{root: dir}
}

// GetObject opens root/key. Keys may not escape the root.
func (s *FileSource) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean("/" + key)
	f, err := os.Open(filepath.Join(s.root, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

func (s *FileSource) Describe() string {
	return "file://" + s.root
}

// readObject fetches key fully.
func readObject(ctx context.Context, src ChunkSource, key string) ([]byte, error) {
	body, err := src.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func describe(src ChunkSource) string {
	if d, ok := src.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", src)
}

func contentTypeFor(key string) string {
	if strings.HasSuffix(key, zarrayKey) || strings.HasSuffix(key, zattrsKey) {
		return "application/json"
	}
	return "application/octet-stream"
}
