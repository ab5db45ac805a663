// Package codec wraps the block decompressors used by compressed disc images
// behind a single Kind enum.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	lzo "github.com/rasky/go-lzo"
)

// Kind selects how a block is stored.
type Kind uint8

const (
	None    Kind = iota // Stored uncompressed
	Deflate             // Raw deflate stream, no zlib header
	Zlib                // Deflate with zlib header and checksum
	LZ4                 // LZ4 block format
	LZO                 // LZO1X
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Deflate:
		return "deflate"
	case Zlib:
		return "zlib"
	case LZ4:
		return "lz4"
	case LZO:
		return "lzo"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Decompress decodes src into dst and returns the number of bytes written.
// A stream that decodes to more than len(dst) bytes is an error.
func Decompress(kind Kind, dst, src []byte) (int, error) {
	switch kind {
	case None:
		if len(src) > len(dst) {
			return 0, fmt.Errorf("%s: stored block of %d bytes exceeds %d", common.ErrFailedToDecompress, len(src), len(dst))
		}
		return copy(dst, src), nil
	case Deflate:
		return inflate(flate.NewReader(bytes.NewReader(src)), dst)
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return 0, common.FormatError(common.ErrFailedToDecompress, err)
		}
		return inflate(zr, dst)
	case LZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return 0, common.FormatError(common.ErrFailedToDecompress, err)
		}
		return n, nil
	case LZO:
		out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), len(dst))
		if err != nil {
			return 0, common.FormatError(common.ErrFailedToDecompress, err)
		}
		if len(out) > len(dst) {
			return 0, fmt.Errorf("%s: lzo output of %d bytes exceeds %d", common.ErrFailedToDecompress, len(out), len(dst))
		}
		return copy(dst, out), nil
	}
	return 0, fmt.Errorf("%s: unknown codec %s", common.ErrFailedToDecompress, kind)
}

// inflate drains rc into dst, failing if the stream holds more than len(dst)
// bytes.
func inflate(rc io.ReadCloser, dst []byte) (int, error) {
	defer rc.Close()

	n, err := io.ReadFull(rc, dst)
	switch err {
	case nil:
		// dst is full; the stream must end here
		var extra [1]byte
		if m, _ := rc.Read(extra[:]); m > 0 {
			return n, fmt.Errorf("%s: output exceeds %d bytes", common.ErrFailedToDecompress, len(dst))
		}
		return n, nil
	case io.ErrUnexpectedEOF, io.EOF:
		return n, nil
	}
	return n, common.FormatError(common.ErrFailedToDecompress, err)
}
