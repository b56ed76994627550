package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses chunk payloads. IDs follow numcodecs.
type Codec interface {
	ID() string
	Decode(src []byte, sizeHint int) ([]byte, error)
	Encode(src []byte) ([]byte, error)
}

// Codec IDs accepted in .zarray "compressor" blocks.
const (
	CodecNone = "none"
	CodecZstd = "zstd"
	CodecGzip = "gzip"
	CodecZlib = "zlib"
	CodecLZ4  = "lz4"
)

func codecFor(spec *CompressorSpec) (Codec, error) {
	if spec == nil {
		return rawCodec{}, nil
	}
	return NewCodec(spec.ID, spec.Level)
}

// NewCodec returns the codec registered under id. level is passed to codecs
// that take one; zero selects the default.
func NewCodec(id string, level int) (Codec, error) {
	switch id {
	case "", CodecNone:
		return rawCodec{}, nil
	case CodecZstd:
		return newZstdCodec(level), nil
	case CodecGzip:
		return gzipCodec{level: level}, nil
	case CodecZlib:
		return zlibCodec{level: level}, nil
	case CodecLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", id)
	}
}

type rawCodec struct{}

func (rawCodec) ID() string { return CodecNone }

func (rawCodec) Decode(src []byte, _ int) ([]byte, error) { return src, nil }

func (rawCodec) Encode(src []byte) ([]byte, error) { return src, nil }

// zstdCodec keeps a pool of single-goroutine decoders; EncodeAll on the
// shared encoder is safe for concurrent use.
type zstdCodec struct {
	level    int
	decoders sync.Pool

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error
}

func newZstdCodec(level int) *zstdCodec {
	c := &zstdCodec{level: level}
	c.decoders.New = func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			// Cannot fail with nil input and default options.
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	}
	return c
}

func (c *zstdCodec) ID() string { return CodecZstd }

func (c *zstdCodec) Decode(src []byte, sizeHint int) ([]byte, error) {
	decoder := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(decoder)

	out, err := decoder.DecodeAll(src, make([]byte, 0, sizeHint))
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	c.encOnce.Do(func() {
		level := zstd.SpeedDefault
		if c.level > 0 {
			level = zstd.EncoderLevelFromZstd(c.level)
		}
		c.enc, c.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	})
	if c.encErr != nil {
		return nil, c.encErr
	}
	return c.enc.EncodeAll(src, nil), nil
}

type gzipCodec struct{ level int }

func (gzipCodec) ID() string { return CodecGzip }

func (gzipCodec) Decode(src []byte, sizeHint int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer r.Close()
	return readAllSized(r, sizeHint)
}

func (c gzipCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, levelOr(c.level, gzip.DefaultCompression))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type zlibCodec struct{ level int }

func (zlibCodec) ID() string { return CodecZlib }

func (zlibCodec) Decode(src []byte, sizeHint int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer r.Close()
	return readAllSized(r, sizeHint)
}

func (c zlibCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, levelOr(c.level, zlib.DefaultCompression))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// lz4Codec reads the numcodecs LZ4 framing: a little-endian uint32 holding the
// decompressed size followed by one raw LZ4 block.
type lz4Codec struct{}

const lz4HeaderSize = 4

func (lz4Codec) ID() string { return CodecLZ4 }

func (lz4Codec) Decode(src []byte, _ int) ([]byte, error) {
	if len(src) < lz4HeaderSize {
		return nil, fmt.Errorf("lz4 chunk too small for header")
	}
	size := binary.LittleEndian.Uint32(src)
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(src[lz4HeaderSize:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompression failed: %w", err)
	}
	if uint32(n) != size {
		return nil, fmt.Errorf("lz4 decompressed %d bytes, header says %d", n, size)
	}
	return out, nil
}

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, lz4HeaderSize+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(dst, uint32(len(src)))
	n, err := lz4.CompressBlock(src, dst[lz4HeaderSize:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible input still needs a valid block.
		return append(dst[:lz4HeaderSize], lz4LiteralBlock(src)...), nil
	}
	return dst[:lz4HeaderSize+n], nil
}

// lz4LiteralBlock encodes src as a single literal-only LZ4 sequence.
func lz4LiteralBlock(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/255+2)
	n := len(src)
	if n < 15 {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xF0)
		rest := n - 15
		for rest >= 255 {
			out = append(out, 255)
			rest -= 255
		}
		out = append(out, byte(rest))
	}
	return append(out, src...)
}

func readAllSized(r io.Reader, sizeHint int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func levelOr(level, def int) int {
	if level == 0 {
		return def
	}
	return level
}
