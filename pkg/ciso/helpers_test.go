package ciso

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

// countingReader records the reads that reach the image.
type countingReader struct {
	*disc.MemReader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.MemReader.Read(p)
}

func payload(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i%53)
	}
	return data
}

// noise does not compress, so it is only ever valid as a stored block.
func noise(n int) []byte {
	data := make([]byte, n)
	x := uint32(2463534242)
	for i := range data {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		data[i] = byte(x)
	}
	return data
}

func deflateBlock(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBlock(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lz4Block(t *testing.T, data []byte) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	require.NoError(t, err)
	require.NotZero(t, n)
	return dst[:n]
}

// storedBlock is one block as written to a test image.
type storedBlock struct {
	data    []byte
	highBit bool
}

// buildCiso writes a CISO or ZISO image with a 0x18-byte header and an
// uncompressed-offset index of len(blocks)+1 entries.
func buildCiso(magic string, version uint8, blockSize uint32, blocks []storedBlock) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(cisoHeaderSize))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(blocks))*uint64(blockSize))
	_ = binary.Write(&buf, binary.LittleEndian, blockSize)
	buf.WriteByte(version)
	buf.WriteByte(0) // index shift
	buf.Write([]byte{0, 0})

	pos := uint32(cisoHeaderSize + (len(blocks)+1)*4)
	for _, b := range blocks {
		entry := pos
		if b.highBit {
			entry |= 0x80000000
		}
		_ = binary.Write(&buf, binary.LittleEndian, entry)
		pos += uint32(len(b.data))
	}
	_ = binary.Write(&buf, binary.LittleEndian, pos)
	for _, b := range blocks {
		buf.Write(b.data)
	}
	return buf.Bytes()
}

// buildJiso writes a JISO image. With blockHeaders set, each stored block
// is preceded by a 4-byte header.
func buildJiso(method uint8, blockSize uint16, blockHeaders bool, blocks [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("JISO")
	buf.Write([]byte{3, 1})
	_ = binary.Write(&buf, binary.LittleEndian, blockSize)
	if blockHeaders {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(0)
	buf.WriteByte(method)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(blocks))*uint32(blockSize))
	buf.Write(make([]byte, 16))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(jisoHeaderSize))
	buf.Write(make([]byte, 12))

	hdr := 0
	if blockHeaders {
		hdr = 4
	}
	pos := uint32(jisoHeaderSize + (len(blocks)+1)*4)
	for _, b := range blocks {
		_ = binary.Write(&buf, binary.LittleEndian, pos)
		pos += uint32(hdr + len(b))
	}
	_ = binary.Write(&buf, binary.LittleEndian, pos)
	for _, b := range blocks {
		if blockHeaders {
			_ = binary.Write(&buf, binary.LittleEndian, uint32(len(b)))
		}
		buf.Write(b)
	}
	return buf.Bytes()
}

// buildDax writes a DAX image: index, 16-bit size table, NC areas, data.
func buildDax(blocks [][]byte, nc []daxNCArea) []byte {
	var buf bytes.Buffer
	buf.WriteString("DAX\x00")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(blocks))*daxBlockSize)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(nc)))
	buf.Write(make([]byte, 16))

	pos := uint32(daxHeaderSize + len(blocks)*6 + len(nc)*8)
	for _, b := range blocks {
		_ = binary.Write(&buf, binary.LittleEndian, pos)
		pos += uint32(len(b))
	}
	for _, b := range blocks {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(b)))
	}
	_ = binary.Write(&buf, binary.LittleEndian, nc)
	for _, b := range blocks {
		buf.Write(b)
	}
	return buf.Bytes()
}
