package codec

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	lzo "github.com/rasky/go-lzo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 61)
	}
	return data
}

func compressDeflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressZlib(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressLZ4(t *testing.T, data []byte) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	require.NoError(t, err)
	require.NotZero(t, n)
	return dst[:n]
}

func TestDecompress(t *testing.T) {
	data := samplePayload(2048)

	testCases := []struct {
		kind Kind
		src  []byte
	}{
		{None, data},
		{Deflate, compressDeflate(t, data)},
		{Zlib, compressZlib(t, data)},
		{LZ4, compressLZ4(t, data)},
		{LZO, lzo.Compress1X(data)},
	}

	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			dst := make([]byte, len(data))
			n, err := Decompress(tc.kind, dst, tc.src)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)
			assert.Equal(t, data, dst)
		})
	}
}

func TestDecompress_OutputTooLarge(t *testing.T) {
	data := samplePayload(4096)

	for _, kind := range []Kind{Deflate, Zlib, None} {
		var src []byte
		switch kind {
		case Deflate:
			src = compressDeflate(t, data)
		case Zlib:
			src = compressZlib(t, data)
		default:
			src = data
		}
		_, err := Decompress(kind, make([]byte, 2048), src)
		assert.Error(t, err, kind.String())
	}
}

func TestDecompress_Corrupt(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xFF}, 64)
	dst := make([]byte, 2048)

	_, err := Decompress(Zlib, dst, garbage)
	assert.Error(t, err)
	_, err = Decompress(LZ4, dst, garbage)
	assert.Error(t, err)
	_, err = Decompress(Kind(99), dst, garbage)
	assert.Error(t, err)
}

func TestDecompress_ShortStream(t *testing.T) {
	// A valid stream that ends early reports the short length without error;
	// callers compare it against the block size.
	data := samplePayload(1000)
	dst := make([]byte, 2048)
	n, err := Decompress(Deflate, dst, compressDeflate(t, data))
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
}
