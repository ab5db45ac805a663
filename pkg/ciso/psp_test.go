package ciso

import (
	"errors"
	"io"
	"testing"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	lzo "github.com/rasky/go-lzo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBS = 2048

func readAll(t *testing.T, r disc.Reader) []byte {
	t.Helper()
	require.NoError(t, r.Seek(0))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestIsPspSupported(t *testing.T) {
	valid := buildCiso("CISO", 1, testBS, []storedBlock{{data: noise(testBS), highBit: true}})

	headerZeroV1 := append([]byte(nil), valid...)
	headerZeroV1[4] = 0
	headerZeroV2 := append([]byte(nil), headerZeroV1...)
	headerZeroV2[0x14] = 2
	oddBlockSize := append([]byte(nil), valid...)
	oddBlockSize[0x10] = 0x01
	zisoV2 := buildCiso("ZISO", 2, testBS, []storedBlock{{data: noise(testBS), highBit: true}})
	badMethod := buildJiso(2, testBS, false, [][]byte{noise(testBS)})
	daxV2 := buildDax([][]byte{noise(daxBlockSize)}, nil)
	daxV2[8] = 2

	testCases := []struct {
		name   string
		header []byte
		want   Format
	}{
		{"ciso v1", valid, FormatCISO},
		{"ciso header size 0", headerZeroV1, FormatCISO},
		{"ciso v2 header size 0", headerZeroV2, FormatUnknown},
		{"ciso odd block size", oddBlockSize, FormatUnknown},
		{"ziso v1", buildCiso("ZISO", 1, testBS, []storedBlock{{data: noise(testBS), highBit: true}}), FormatZISO},
		{"ziso v2", zisoV2, FormatUnknown},
		{"jiso lzo", buildJiso(0, testBS, false, [][]byte{noise(testBS)}), FormatJISO},
		{"jiso bad method", badMethod, FormatUnknown},
		{"dax v1", buildDax([][]byte{noise(daxBlockSize)}, nil), FormatDAX},
		{"dax v2", daxV2, FormatUnknown},
		{"iso", []byte("\x00\x00\x00\x00CD001\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), FormatUnknown},
		{"short", []byte("CISO"), FormatUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.header
			if len(h) > PspHeaderProbeSize {
				h = h[:PspHeaderProbeSize]
			}
			assert.Equal(t, tc.want, IsPspSupported(h))
		})
	}
}

func TestPspReader_CisoV1StoredAndDeflate(t *testing.T) {
	// Block 0 is stored: its bytes would never inflate, so a reader that
	// tried to decompress it would fail.
	stored := noise(testBS)
	plain := payload(testBS, 7)
	image := buildCiso("CISO", 1, testBS, []storedBlock{
		{data: stored, highBit: true},
		{data: deflateBlock(t, plain)},
	})

	r, err := NewPspReader(disc.NewMemReader(image), 1)
	require.NoError(t, err)
	assert.Equal(t, FormatCISO, r.Format())
	assert.Equal(t, int64(2*testBS), r.Size())

	got := readAll(t, r)
	assert.Equal(t, stored, got[:testBS])
	assert.Equal(t, plain, got[testBS:])
}

func TestPspReader_CisoV1Invalid(t *testing.T) {
	t.Run("stored block with wrong size", func(t *testing.T) {
		image := buildCiso("CISO", 1, testBS, []storedBlock{{data: noise(testBS - 16), highBit: true}})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)

		_, err = r.Read(make([]byte, 16))
		assert.True(t, errors.Is(err, common.ErrIO))
		assert.True(t, errors.Is(r.LastError(), common.ErrIO))
	})

	t.Run("deflate block that decodes short", func(t *testing.T) {
		image := buildCiso("CISO", 1, testBS, []storedBlock{{data: deflateBlock(t, payload(testBS/2, 1))}})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)

		_, err = r.Read(make([]byte, 16))
		assert.True(t, errors.Is(err, common.ErrIO))
	})

	t.Run("corrupt deflate block", func(t *testing.T) {
		image := buildCiso("CISO", 1, testBS, []storedBlock{{data: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)

		_, err = r.Read(make([]byte, 16))
		assert.True(t, errors.Is(err, common.ErrIO))
	})
}

func TestPspReader_CisoV2(t *testing.T) {
	stored := noise(testBS)
	lz4Plain := payload(testBS, 3)
	deflatePlain := payload(testBS, 9)
	image := buildCiso("CISO", 2, testBS, []storedBlock{
		{data: stored},
		{data: lz4Block(t, lz4Plain), highBit: true},
		{data: deflateBlock(t, deflatePlain)},
	})

	r, err := NewPspReader(disc.NewMemReader(image), 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), r.Version())

	got := readAll(t, r)
	assert.Equal(t, stored, got[:testBS])
	assert.Equal(t, lz4Plain, got[testBS:2*testBS])
	assert.Equal(t, deflatePlain, got[2*testBS:])
}

func TestPspReader_Ziso(t *testing.T) {
	stored := noise(testBS)
	plain := payload(testBS, 5)
	image := buildCiso("ZISO", 1, testBS, []storedBlock{
		{data: lz4Block(t, plain)},
		{data: stored, highBit: true},
	})

	r, err := NewPspReader(disc.NewMemReader(image), 1)
	require.NoError(t, err)
	assert.Equal(t, FormatZISO, r.Format())

	got := readAll(t, r)
	assert.Equal(t, plain, got[:testBS])
	assert.Equal(t, stored, got[testBS:])
}

func TestPspReader_Jiso(t *testing.T) {
	plain := payload(testBS, 11)
	stored := noise(testBS)

	t.Run("lzo with block headers", func(t *testing.T) {
		image := buildJiso(jisoMethodLZO, testBS, true, [][]byte{lzo.Compress1X(plain), stored})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)
		assert.Equal(t, FormatJISO, r.Format())

		got := readAll(t, r)
		assert.Equal(t, plain, got[:testBS])
		assert.Equal(t, stored, got[testBS:])
	})

	t.Run("deflate", func(t *testing.T) {
		image := buildJiso(jisoMethodZlib, testBS, false, [][]byte{stored, deflateBlock(t, plain)})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)

		got := readAll(t, r)
		assert.Equal(t, stored, got[:testBS])
		assert.Equal(t, plain, got[testBS:])
	})
}

func TestPspReader_Dax(t *testing.T) {
	plain := payload(daxBlockSize, 13)
	stored := noise(daxBlockSize)

	t.Run("nc areas", func(t *testing.T) {
		image := buildDax([][]byte{zlibBlock(t, plain), stored, stored}, []daxNCArea{{Start: 1, Count: 2}})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)
		assert.Equal(t, FormatDAX, r.Format())
		assert.Equal(t, int64(3*daxBlockSize), r.Size())

		got := readAll(t, r)
		assert.Equal(t, plain, got[:daxBlockSize])
		assert.Equal(t, stored, got[daxBlockSize:2*daxBlockSize])
		assert.Equal(t, stored, got[2*daxBlockSize:])
	})

	t.Run("no nc table falls back to stored", func(t *testing.T) {
		image := buildDax([][]byte{zlibBlock(t, plain), stored}, nil)
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		require.NoError(t, err)

		got := readAll(t, r)
		assert.Equal(t, plain, got[:daxBlockSize])
		assert.Equal(t, stored, got[daxBlockSize:])
	})

	t.Run("nc area past the end", func(t *testing.T) {
		image := buildDax([][]byte{stored}, []daxNCArea{{Start: 0, Count: 2}})
		r, err := NewPspReader(disc.NewMemReader(image), 1)
		assert.True(t, errors.Is(err, common.ErrIO))
		assert.False(t, r.IsOpen())
	})
}

func TestPspReader_CachesDecodedBlock(t *testing.T) {
	plain := payload(testBS, 21)
	image := buildCiso("CISO", 1, testBS, []storedBlock{{data: deflateBlock(t, plain)}})
	src := &countingReader{MemReader: disc.NewMemReader(image)}

	r, err := NewPspReader(src, 1)
	require.NoError(t, err)

	buf := make([]byte, 100)
	_, err = r.Read(buf)
	require.NoError(t, err)
	before := src.reads

	require.NoError(t, r.Seek(500))
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, before, src.reads)
	assert.Equal(t, plain[500:600], buf)
}

func TestPspReader_InvalidHeader(t *testing.T) {
	r, err := NewPspReader(disc.NewMemReader(make([]byte, 4096)), 1)
	assert.True(t, errors.Is(err, common.ErrIO))
	assert.False(t, r.IsOpen())
	assert.Equal(t, FormatUnknown, r.Format())

	_, err = NewPspReader(nil, 1)
	assert.True(t, errors.Is(err, common.ErrBadFile))
}

func TestPspReader_TruncatedIndex(t *testing.T) {
	image := buildCiso("CISO", 1, testBS, []storedBlock{{data: noise(testBS), highBit: true}})
	_, err := NewPspReader(disc.NewMemReader(image[:cisoHeaderSize+2]), 1)
	assert.True(t, errors.Is(err, common.ErrIO))
}
