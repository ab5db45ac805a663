package disc

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
)

// BlockSource is implemented by formats built on SparseReader.
type BlockSource interface {
	// PhysBlockAddr returns the source offset of a logical block, 0 for a
	// sparse block that reads back as zeros, or -1 for an invalid index.
	PhysBlockAddr(blockIdx uint32) int64

	// ReadBlock copies len(p) bytes of block blockIdx, starting pos bytes
	// into the block, and returns the number of bytes copied. pos+len(p)
	// never exceeds the block size.
	ReadBlock(blockIdx uint32, pos int, p []byte) (int, error)
}

// SparseReader translates a logical, fixed-size block address space into
// reads on a backing source. Subclasses embed it, call Init from their
// constructor and supply a BlockSource.
//
// The reader keeps a single cursor and is not safe for concurrent use.
type SparseReader struct {
	ErrorState
	src       Reader
	impl      BlockSource
	discSize  int64
	blockSize int
	pos       int64
}

// Init configures the block geometry. blockSize must be positive.
func (s *SparseReader) Init(src Reader, impl BlockSource, blockSize int, discSize int64) {
	s.src = src
	s.impl = impl
	s.blockSize = blockSize
	s.discSize = discSize
	s.pos = 0
}

// Src returns the backing source.
func (s *SparseReader) Src() Reader { return s.src }

// BlockSize returns the logical block size.
func (s *SparseReader) BlockSize() int { return s.blockSize }

// BlockCount returns the number of logical blocks.
func (s *SparseReader) BlockCount() uint32 {
	if s.blockSize <= 0 {
		return 0
	}
	return uint32((s.discSize + int64(s.blockSize) - 1) / int64(s.blockSize))
}

// Read splits the request into a partial leading block, whole blocks and a
// partial trailing block, each serviced by the BlockSource.
func (s *SparseReader) Read(p []byte) (int, error) {
	if !s.IsOpen() {
		return 0, s.SetError(common.ErrBadFile)
	}
	if s.pos >= s.discSize {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if remain := s.discSize - s.pos; int64(len(p)) > remain {
		p = p[:remain]
	}

	bs := int64(s.blockSize)
	total := 0
	for len(p) > 0 {
		blockIdx := uint32(s.pos / bs)
		blockPos := int(s.pos % bs)
		chunk := s.blockSize - blockPos
		if chunk > len(p) {
			chunk = len(p)
		}

		n, err := s.impl.ReadBlock(blockIdx, blockPos, p[:chunk])
		if n > 0 {
			total += n
			s.pos += int64(n)
			p = p[n:]
		}
		if err != nil {
			return total, s.SetError(err)
		}
		if n != chunk {
			return total, s.SetError(common.WrapErrno(common.ErrIO, "%s %d", common.ErrFailedToReadBlock, blockIdx))
		}
	}
	return total, nil
}

// ReadMapped is the default ReadBlock: it resolves the block through
// PhysBlockAddr, zero-fills sparse blocks and reads mapped blocks directly
// from the source.
func (s *SparseReader) ReadMapped(blockIdx uint32, pos int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if pos < 0 || pos+len(p) > s.blockSize {
		return 0, common.WrapErrno(common.ErrInvalid, "block range %d+%d exceeds block size %d", pos, len(p), s.blockSize)
	}

	addr := s.impl.PhysBlockAddr(blockIdx)
	switch {
	case addr == 0:
		clear(p)
		return len(p), nil
	case addr < 0:
		return 0, common.WrapErrno(common.ErrRange, "block %d has no mapping", blockIdx)
	}

	if err := s.src.Seek(addr + int64(pos)); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.src, p)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = common.WrapErrno(common.ErrIO, "%s %d: short read", common.ErrFailedToReadBlock, blockIdx)
	}
	return n, err
}

// Seek sets the logical position, clamped to [0, Size()].
func (s *SparseReader) Seek(pos int64) error {
	if !s.IsOpen() {
		return s.SetError(common.ErrBadFile)
	}
	s.pos = clamp(pos, s.discSize)
	return nil
}

// Tell returns the logical position.
func (s *SparseReader) Tell() int64 { return s.pos }

// Size returns the logical disc size.
func (s *SparseReader) Size() int64 { return s.discSize }

// IsOpen reports whether the reader was initialized over an open source.
func (s *SparseReader) IsOpen() bool {
	return s.src != nil && s.impl != nil && s.src.IsOpen()
}

// Close releases the backing source.
func (s *SparseReader) Close() error {
	if s.src == nil {
		return nil
	}
	err := s.src.Close()
	s.src = nil
	return err
}
