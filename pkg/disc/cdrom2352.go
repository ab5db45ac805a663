package disc

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
)

// Cdrom2352Reader exposes a raw CD image (2352-byte sectors, or 2448 with
// subchannel data) as a sequence of 2048-byte logical blocks.
type Cdrom2352Reader struct {
	SparseReader
	physBlockSize int
	sector        []byte
}

// IsCdrom2352Supported reports whether header starts with a raw data sector.
func IsCdrom2352Supported(header []byte) bool {
	return common.HasCDSync(header)
}

// NewCdrom2352Reader wraps src, whose size must be a multiple of physBlockSize.
func NewCdrom2352Reader(src Reader, physBlockSize int) (*Cdrom2352Reader, error) {
	r := &Cdrom2352Reader{physBlockSize: physBlockSize}
	if src == nil || !src.IsOpen() {
		return r, r.SetError(common.ErrBadFile)
	}
	if physBlockSize != common.CDSectorSize && physBlockSize != common.CDSectorSizeSubch {
		return r, r.SetError(common.WrapErrno(common.ErrInvalid, "%s: %d", common.ErrInvalidSectorSize, physBlockSize))
	}

	size := src.Size()
	if size <= 0 || size%int64(physBlockSize) != 0 {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s (%d bytes, %d-byte sectors)",
			common.ErrSourceNotMultipleOfSec, size, physBlockSize))
	}

	r.sector = make([]byte, common.CDSectorSize)
	blocks := size / int64(physBlockSize)
	r.Init(src, r, common.CDDataSize, blocks*common.CDDataSize)
	return r, nil
}

// PhysBlockAddr returns the offset of the raw sector holding blockIdx.
func (r *Cdrom2352Reader) PhysBlockAddr(blockIdx uint32) int64 {
	if blockIdx >= r.BlockCount() {
		return -1
	}
	return int64(blockIdx) * int64(r.physBlockSize)
}

// ReadBlock reads the whole raw sector, since the user data offset depends
// on the sector mode, and copies the requested part of the user data.
func (r *Cdrom2352Reader) ReadBlock(blockIdx uint32, pos int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	addr := r.PhysBlockAddr(blockIdx)
	if addr < 0 {
		return 0, common.WrapErrno(common.ErrRange, "block %d out of range", blockIdx)
	}

	src := r.Src()
	if err := src.Seek(addr); err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(src, r.sector); err != nil {
		return 0, common.WrapErrno(common.ErrIO, "%s %d: %v", common.ErrFailedToReadBlock, blockIdx, err)
	}

	off := common.SectorDataOffset(r.sector) + pos
	return copy(p, r.sector[off:off+len(p)]), nil
}

// PhysBlockSize returns the raw sector size, 2352 or 2448.
func (r *Cdrom2352Reader) PhysBlockSize() int { return r.physBlockSize }
