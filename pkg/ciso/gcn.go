package ciso

import (
	"encoding/binary"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
)

// GameCube CISO layout: magic, block size, then one map byte per logical
// block up to the end of the 32 KiB header. Used blocks are stored in order
// right after the header.
const (
	GcnHeaderSize = 0x8000
	gcnMapSize    = GcnHeaderSize - 8

	gcnBlockSizeMin = 1 << 15
	gcnBlockSizeMax = 1 << 24

	gcnMapEmpty = 0
	gcnMapUsed  = 1
)

// IsGcnSupported reports whether header starts a GameCube CISO image.
// A PSP CISO fails here because its second field is the header size (0x18).
func IsGcnSupported(header []byte) bool {
	if len(header) < 8 || string(header[:4]) != "CISO" {
		return false
	}
	bs := binary.LittleEndian.Uint32(header[4:])
	return common.IsPowerOfTwo(uint64(bs)) && bs >= gcnBlockSizeMin && bs <= gcnBlockSizeMax
}

// GcnReader reads GameCube and Wii CISO images.
type GcnReader struct {
	disc.SparseReader
	// blockMap holds the physical block index of each logical block, or -1.
	blockMap []int32
}

// NewGcnReader parses the block map of a GameCube CISO image.
func NewGcnReader(src disc.Reader) (*GcnReader, error) {
	r := &GcnReader{}
	if src == nil || !src.IsOpen() {
		return r, r.SetError(common.ErrBadFile)
	}

	header := make([]byte, GcnHeaderSize)
	if _, err := disc.SeekAndRead(src, 0, header); err != nil {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToReadHeader, err))
	}
	if !IsGcnSupported(header) {
		if string(header[:4]) == "CISO" {
			return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: 0x%X", common.ErrInvalidBlockSize, binary.LittleEndian.Uint32(header[4:])))
		}
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: not a GameCube CISO header", common.ErrInvalidMagic))
	}
	blockSize := binary.LittleEndian.Uint32(header[4:])

	r.blockMap = make([]int32, gcnMapSize)
	var phys int32
	maxUsed := -1
	for i, v := range header[8:] {
		switch v {
		case gcnMapEmpty:
			r.blockMap[i] = -1
		case gcnMapUsed:
			r.blockMap[i] = phys
			phys++
			maxUsed = i
		default:
			return r, r.SetError(common.WrapErrno(common.ErrIO, "invalid CISO map entry 0x%02X at block %d", v, i))
		}
	}
	r.blockMap = r.blockMap[:maxUsed+1]

	common.LogDebug(common.DebugCisoHeader, "GCN CISO", 0, blockSize, len(r.blockMap))
	r.Init(src, r, int(blockSize), int64(maxUsed+1)*int64(blockSize))
	return r, nil
}

// PhysBlockAddr maps a logical block to its offset in the image. Empty
// blocks read back as zeros.
func (r *GcnReader) PhysBlockAddr(blockIdx uint32) int64 {
	if int(blockIdx) >= len(r.blockMap) {
		return -1
	}
	phys := r.blockMap[blockIdx]
	if phys < 0 {
		return 0
	}
	return GcnHeaderSize + int64(phys)*int64(r.BlockSize())
}

// ReadBlock reads straight from the image; GameCube CISO is never compressed.
func (r *GcnReader) ReadBlock(blockIdx uint32, pos int, p []byte) (int, error) {
	return r.ReadMapped(blockIdx, pos, p)
}
