package raster

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs_RoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("night lights "), 400)
	noise := make([]byte, 4096)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range noise {
		noise[i] = byte(rng.UintN(256))
	}

	for _, id := range []string{CodecNone, CodecZstd, CodecGzip, CodecZlib, CodecLZ4} {
		codec, err := NewCodec(id, 0)
		require.NoError(t, err)
		assert.Equal(t, id, codec.ID())

		for name, payload := range map[string][]byte{"compressible": compressible, "noise": noise} {
			t.Run(id+"/"+name, func(t *testing.T) {
				encoded, err := codec.Encode(payload)
				require.NoError(t, err)

				decoded, err := codec.Decode(encoded, len(payload))
				require.NoError(t, err)
				assert.Equal(t, payload, decoded)
			})
		}
	}
}

func TestCodecs_RejectGarbage(t *testing.T) {
	garbage := []byte{0x01, 0x02, 0x03}
	for _, id := range []string{CodecZstd, CodecGzip, CodecZlib, CodecLZ4} {
		codec, err := NewCodec(id, 0)
		require.NoError(t, err)

		_, err = codec.Decode(garbage, 16)
		assert.Error(t, err, id)
	}
}

func TestLZ4LiteralBlock_LongRun(t *testing.T) {
	// Exercise the extended literal length encoding (>= 15 + 255 bytes).
	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	framed := append([]byte{0x58, 0x02, 0x00, 0x00}, lz4LiteralBlock(payload)...)

	decoded, err := lz4Codec{}.Decode(framed, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestNewCodec_Unsupported(t *testing.T) {
	_, err := NewCodec("blosc", 0)
	assert.Error(t, err)
}
