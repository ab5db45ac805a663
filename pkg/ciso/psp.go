// Package ciso implements the compressed and sparse ISO containers used for
// PSP (CISO, ZISO, JISO, DAX) and GameCube (CISO) disc images.
package ciso

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hansbonini/romdisc/pkg/codec"
	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Format identifies a PSP compressed container.
type Format int

const (
	FormatUnknown Format = iota - 1
	FormatCISO
	FormatZISO
	FormatJISO
	FormatDAX
)

func (f Format) String() string {
	switch f {
	case FormatCISO:
		return "CISO"
	case FormatZISO:
		return "ZISO"
	case FormatJISO:
		return "JISO"
	case FormatDAX:
		return "DAX"
	}
	return "unknown"
}

// Header layouts
const (
	cisoHeaderSize = 0x18
	jisoHeaderSize = 0x30
	daxHeaderSize  = 0x20

	// PspHeaderProbeSize is enough header to classify any PSP container.
	PspHeaderProbeSize = jisoHeaderSize

	cisoNotCompressed = 0x80000000 // CISO v0/v1 and ZISO: stored block
	cisoV2LZ4         = 0x80000000 // CISO v2: LZ4 block

	cisoBlockSizeMin = 1 << 11
	cisoBlockSizeMax = 1 << 24
	cisoMaxSize      = 16 << 30
	jisoBlockSizeMin = 1 << 11
	jisoBlockSizeMax = 1 << 16
	daxBlockSize     = 0x2000

	jisoMethodLZO  = 0
	jisoMethodZlib = 1
)

// cisoHeader is the CISO/ZISO header (0x18 bytes, little-endian).
type cisoHeader struct {
	Magic            [4]byte
	HeaderSize       uint32
	UncompressedSize uint64
	BlockSize        uint32
	Version          uint8
	IndexShift       uint8
	Unused           [2]byte
}

// jisoHeader is the JISO header (0x30 bytes, little-endian).
type jisoHeader struct {
	Magic            [4]byte
	Unk4             uint8
	Unk5             uint8
	BlockSize        uint16
	BlockHeaders     uint8
	Unk9             uint8
	Method           uint8 // 0 = LZO, 1 = raw deflate
	UnkB             uint8
	UncompressedSize uint32
	MD5              [16]byte
	HeaderSize       uint32
	Unknown          [12]byte
}

// daxHeader is the DAX header (0x20 bytes, little-endian).
type daxHeader struct {
	Magic            [4]byte
	UncompressedSize uint32
	Version          uint32
	NCAreas          uint32
	Unused           [4]uint32
}

// daxNCArea marks a run of blocks stored without compression.
type daxNCArea struct {
	Start uint32
	Count uint32
}

// IsPspSupported classifies a container header. It returns FormatUnknown if
// the header is not a valid PSP container.
func IsPspSupported(header []byte) Format {
	if len(header) < cisoHeaderSize {
		return FormatUnknown
	}

	switch string(header[:4]) {
	case "CISO", "ZISO":
		var h cisoHeader
		_, _ = binary.Decode(header, binary.LittleEndian, &h)
		return checkCisoHeader(&h)
	case "JISO":
		if len(header) < jisoHeaderSize {
			return FormatUnknown
		}
		var h jisoHeader
		_, _ = binary.Decode(header, binary.LittleEndian, &h)
		return checkJisoHeader(&h)
	case "DAX\x00":
		if len(header) < daxHeaderSize {
			return FormatUnknown
		}
		var h daxHeader
		_, _ = binary.Decode(header, binary.LittleEndian, &h)
		return checkDaxHeader(&h)
	}
	return FormatUnknown
}

func checkCisoHeader(h *cisoHeader) Format {
	// Header size is 0x18, or 0 for CISO v0/v1 images from older tools.
	if h.HeaderSize == 0 {
		if h.Magic[0] != 'C' || h.Version >= 2 {
			return FormatUnknown
		}
	} else if h.HeaderSize != cisoHeaderSize {
		return FormatUnknown
	}

	if h.Magic[0] == 'Z' {
		if h.Version != 1 {
			return FormatUnknown
		}
	} else if h.Version > 2 {
		return FormatUnknown
	}

	bs := uint64(h.BlockSize)
	if !common.IsPowerOfTwo(bs) || bs < cisoBlockSizeMin || bs > cisoBlockSizeMax {
		return FormatUnknown
	}
	if h.UncompressedSize < bs || h.UncompressedSize > cisoMaxSize || h.UncompressedSize%bs != 0 {
		return FormatUnknown
	}

	if h.Magic[0] == 'Z' {
		return FormatZISO
	}
	return FormatCISO
}

func checkJisoHeader(h *jisoHeader) Format {
	if h.HeaderSize != jisoHeaderSize {
		return FormatUnknown
	}
	bs := uint32(h.BlockSize)
	if !common.IsPowerOfTwo(uint64(bs)) || bs < jisoBlockSizeMin || bs > jisoBlockSizeMax {
		return FormatUnknown
	}
	if h.UncompressedSize < bs || h.UncompressedSize%bs != 0 {
		return FormatUnknown
	}
	if h.Method != jisoMethodLZO && h.Method != jisoMethodZlib {
		return FormatUnknown
	}
	return FormatJISO
}

func checkDaxHeader(h *daxHeader) Format {
	if h.Version > 1 {
		return FormatUnknown
	}
	if h.UncompressedSize < daxBlockSize || h.UncompressedSize%daxBlockSize != 0 {
		return FormatUnknown
	}
	return FormatDAX
}

// blockPlan says where a block's stored bytes are and how to decode them.
type blockPlan struct {
	addr  int64
	zsize uint32
	kind  codec.Kind
}

// PspReader reads PSP CISO, ZISO, JISO and DAX images.
type PspReader struct {
	disc.SparseReader
	format    Format
	version   uint8
	numBlocks uint32
	index     []uint32
	daxSizes  []uint16
	daxNC     []bool

	indexShift   uint8
	blockHeaders bool
	jisoMethod   uint8

	// Largest stored block accepted. DAX images without an NC table may hold
	// deflate output larger than the block itself.
	maxZSize uint32
	// rawFallback accepts a block as stored data when it fails to inflate
	// and its stored size equals the block size.
	rawFallback bool

	// plan is chosen once per container at open time.
	plan  func(blockIdx uint32) (blockPlan, error)
	cache *lru.Cache[uint32, []byte]
	zbuf  []byte
}

// NewPspReader opens a PSP compressed image. cacheSize is the number of
// decoded blocks kept in memory; values below 1 mean 1.
func NewPspReader(src disc.Reader, cacheSize int) (*PspReader, error) {
	r := &PspReader{format: FormatUnknown}
	if src == nil || !src.IsOpen() {
		return r, r.SetError(common.ErrBadFile)
	}

	header := make([]byte, PspHeaderProbeSize)
	n, err := disc.SeekAndRead(src, 0, header)
	if err != nil && n < cisoHeaderSize {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToReadHeader, err))
	}
	header = header[:n]

	r.format = IsPspSupported(header)
	var blockSize uint32
	var discSize int64
	var indexPos int64
	var ncAreas uint32
	switch r.format {
	case FormatCISO, FormatZISO:
		var h cisoHeader
		_, _ = binary.Decode(header, binary.LittleEndian, &h)
		blockSize = h.BlockSize
		if discSize, err = common.SafeUint64ToInt64(h.UncompressedSize); err != nil {
			return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToReadHeader, err))
		}
		r.version = h.Version
		r.indexShift = h.IndexShift
		indexPos = cisoHeaderSize
	case FormatJISO:
		var h jisoHeader
		_, _ = binary.Decode(header, binary.LittleEndian, &h)
		blockSize = uint32(h.BlockSize)
		discSize = int64(h.UncompressedSize)
		r.blockHeaders = h.BlockHeaders != 0
		r.jisoMethod = h.Method
		indexPos = jisoHeaderSize
	case FormatDAX:
		var h daxHeader
		_, _ = binary.Decode(header, binary.LittleEndian, &h)
		blockSize = daxBlockSize
		discSize = int64(h.UncompressedSize)
		r.version = uint8(h.Version)
		ncAreas = h.NCAreas
		indexPos = daxHeaderSize
	default:
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: not a CISO/ZISO/JISO/DAX header", common.ErrInvalidMagic))
	}

	r.numBlocks = uint32(discSize / int64(blockSize))
	r.maxZSize = blockSize
	entries := int(r.numBlocks)
	if r.format != FormatDAX {
		// One extra entry marks the end of the last block.
		entries++
	}
	if err := r.loadIndex(src, indexPos, entries); err != nil {
		return r, r.SetError(err)
	}
	if r.format == FormatDAX {
		if err := r.loadDaxTables(src, ncAreas); err != nil {
			return r, r.SetError(err)
		}
	}

	r.zbuf = make([]byte, r.maxZSize)
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New[uint32, []byte](cacheSize)
	if err != nil {
		return r, r.SetError(err)
	}
	r.cache = cache

	// Pick the block decoder once for the container.
	switch r.format {
	case FormatCISO:
		if r.version < 2 {
			r.plan = r.planCisoV1
		} else {
			r.plan = r.planCisoV2
		}
	case FormatZISO:
		r.plan = r.planZiso
	case FormatJISO:
		r.plan = r.planJiso
	case FormatDAX:
		r.plan = r.planDax
	}

	common.LogDebug(common.DebugCisoHeader, r.format, r.version, blockSize, r.numBlocks)
	r.Init(src, r, int(blockSize), discSize)
	return r, nil
}

func (r *PspReader) loadIndex(src disc.Reader, pos int64, entries int) error {
	raw := make([]byte, entries*4)
	if _, err := disc.SeekAndRead(src, pos, raw); err != nil {
		return common.WrapErrno(common.ErrIO, "%s: index table: %v", common.ErrFailedToReadHeader, err)
	}
	r.index = make([]uint32, entries)
	for i := range r.index {
		r.index[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return nil
}

// loadDaxTables reads the 16-bit size table and the NC areas, which follow
// the index table back to back.
func (r *PspReader) loadDaxTables(src disc.Reader, ncAreas uint32) error {
	pos := int64(daxHeaderSize) + int64(len(r.index))*4
	raw := make([]byte, int(r.numBlocks)*2)
	if _, err := disc.SeekAndRead(src, pos, raw); err != nil {
		return common.WrapErrno(common.ErrIO, "%s: DAX size table: %v", common.ErrFailedToReadHeader, err)
	}
	r.daxSizes = make([]uint16, r.numBlocks)
	for i := range r.daxSizes {
		r.daxSizes[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	pos += int64(len(raw))

	if ncAreas == 0 {
		r.maxZSize = 2 * daxBlockSize
		r.rawFallback = true
		return nil
	}

	areas := make([]daxNCArea, ncAreas)
	if err := src.Seek(pos); err != nil {
		return err
	}
	if err := binary.Read(src, binary.LittleEndian, areas); err != nil {
		return common.WrapErrno(common.ErrIO, "%s: DAX NC areas: %v", common.ErrFailedToReadHeader, err)
	}

	r.daxNC = make([]bool, r.numBlocks)
	for _, a := range areas {
		end := uint64(a.Start) + uint64(a.Count)
		if end > uint64(r.numBlocks) {
			return common.WrapErrno(common.ErrIO, "DAX NC area %d+%d exceeds %d blocks", a.Start, a.Count, r.numBlocks)
		}
		for i := a.Start; uint64(i) < end; i++ {
			r.daxNC[i] = true
		}
	}
	return nil
}

// Format returns the detected container.
func (r *PspReader) Format() Format { return r.format }

// Version returns the container version field.
func (r *PspReader) Version() uint8 { return r.version }

// compressedSize returns the stored size of a block, or 0 if the index is
// inconsistent.
func (r *PspReader) compressedSize(blockIdx uint32) uint32 {
	switch r.format {
	case FormatCISO, FormatZISO:
		start := uint64(r.index[blockIdx]&^cisoNotCompressed) << r.indexShift
		end := uint64(r.index[blockIdx+1]&^cisoNotCompressed) << r.indexShift
		if end < start {
			return 0
		}
		return uint32(end - start)
	case FormatJISO:
		if r.index[blockIdx+1] < r.index[blockIdx] {
			return 0
		}
		return r.index[blockIdx+1] - r.index[blockIdx]
	case FormatDAX:
		return uint32(r.daxSizes[blockIdx])
	}
	return 0
}

// PhysBlockAddr returns the offset of a block's stored data.
func (r *PspReader) PhysBlockAddr(blockIdx uint32) int64 {
	if blockIdx >= r.numBlocks {
		return -1
	}
	switch r.format {
	case FormatCISO, FormatZISO:
		return int64(r.index[blockIdx]&^cisoNotCompressed) << r.indexShift
	}
	return int64(r.index[blockIdx])
}

func (r *PspReader) planCisoV1(blockIdx uint32) (blockPlan, error) {
	p := blockPlan{addr: r.PhysBlockAddr(blockIdx), zsize: r.compressedSize(blockIdx), kind: codec.Deflate}
	if r.index[blockIdx]&cisoNotCompressed != 0 {
		p.kind = codec.None
		if p.zsize != uint32(r.BlockSize()) {
			return p, common.WrapErrno(common.ErrIO, "stored block %d is %d bytes", blockIdx, p.zsize)
		}
	}
	return p, nil
}

func (r *PspReader) planCisoV2(blockIdx uint32) (blockPlan, error) {
	p := blockPlan{addr: r.PhysBlockAddr(blockIdx), zsize: r.compressedSize(blockIdx)}
	switch {
	case p.zsize == uint32(r.BlockSize()):
		p.kind = codec.None
	case r.index[blockIdx]&cisoV2LZ4 != 0:
		p.kind = codec.LZ4
	default:
		p.kind = codec.Deflate
	}
	return p, nil
}

func (r *PspReader) planZiso(blockIdx uint32) (blockPlan, error) {
	p := blockPlan{addr: r.PhysBlockAddr(blockIdx), zsize: r.compressedSize(blockIdx), kind: codec.LZ4}
	if r.index[blockIdx]&cisoNotCompressed != 0 {
		p.kind = codec.None
	}
	return p, nil
}

func (r *PspReader) planJiso(blockIdx uint32) (blockPlan, error) {
	p := blockPlan{addr: r.PhysBlockAddr(blockIdx), zsize: r.compressedSize(blockIdx)}
	if r.blockHeaders {
		if p.zsize <= 4 {
			return p, common.WrapErrno(common.ErrIO, "JISO block %d too small for its header", blockIdx)
		}
		p.addr += 4
		p.zsize -= 4
	}

	switch {
	case p.zsize == uint32(r.BlockSize()):
		p.kind = codec.None
	case r.jisoMethod == jisoMethodLZO:
		p.kind = codec.LZO
	default:
		p.kind = codec.Deflate
	}
	return p, nil
}

func (r *PspReader) planDax(blockIdx uint32) (blockPlan, error) {
	p := blockPlan{addr: r.PhysBlockAddr(blockIdx), zsize: r.compressedSize(blockIdx), kind: codec.Zlib}
	if r.daxNC != nil && r.daxNC[blockIdx] {
		p.kind = codec.None
	}
	return p, nil
}

// ReadBlock decodes a block, or serves it from the block cache.
func (r *PspReader) ReadBlock(blockIdx uint32, pos int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if pos < 0 || pos+len(p) > r.BlockSize() {
		return 0, common.WrapErrno(common.ErrInvalid, "block range %d+%d exceeds block size %d", pos, len(p), r.BlockSize())
	}
	if blockIdx >= r.numBlocks {
		return 0, common.WrapErrno(common.ErrRange, "block %d out of range", blockIdx)
	}

	block, ok := r.cache.Get(blockIdx)
	if !ok {
		var err error
		if block, err = r.decodeBlock(blockIdx); err != nil {
			return 0, err
		}
		r.cache.Add(blockIdx, block)
	}
	return copy(p, block[pos:pos+len(p)]), nil
}

func (r *PspReader) decodeBlock(blockIdx uint32) ([]byte, error) {
	bp, err := r.plan(blockIdx)
	if err != nil {
		return nil, err
	}
	if bp.zsize == 0 {
		return nil, common.WrapErrno(common.ErrIO, "block %d has no stored size", blockIdx)
	}
	if bp.zsize > r.maxZSize {
		return nil, common.WrapErrno(common.ErrIO, "block %d stored size %d exceeds %d", blockIdx, bp.zsize, r.maxZSize)
	}
	common.LogDebug(common.DebugBlockCacheMiss, blockIdx, bp.zsize, bp.kind)

	zdata := r.zbuf[:bp.zsize]
	if _, err := disc.SeekAndRead(r.Src(), bp.addr, zdata); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = common.ErrIO
		}
		return nil, common.WrapErrno(common.Errno(err), "%s %d: %v", common.ErrFailedToReadBlock, blockIdx, err)
	}

	bs := r.BlockSize()
	block := make([]byte, bs)
	if bp.kind == codec.None && int(bp.zsize) != bs {
		return nil, common.WrapErrno(common.ErrIO, "stored block %d is %d bytes", blockIdx, bp.zsize)
	}

	n, err := codec.Decompress(bp.kind, block, zdata)
	if err == nil && n == bs {
		return block, nil
	}
	if r.rawFallback && int(bp.zsize) == bs {
		copy(block, zdata)
		return block, nil
	}
	if err == nil {
		err = fmt.Errorf("decoded %d bytes, want %d", n, bs)
	}
	return nil, common.WrapErrno(common.ErrIO, "%s %d (%s): %v", common.ErrFailedToDecompress, blockIdx, bp.kind, err)
}
