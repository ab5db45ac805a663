package multitrack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
)

// CDI footer versions
const (
	CdiV2  uint32 = 0x80000004
	CdiV3  uint32 = 0x80000005
	CdiV35 uint32 = 0x80000006

	cdiFooterSize     = 8
	cdiMaxIndexes     = 16
	cdiLengthFieldLen = 50
	cdiV4Marker       = 0x80000000
	cdiExtraMarker    = 0xFFFFFFFF
)

// cdiTrackStartMark appears twice at the start of every track record.
var cdiTrackStartMark = []byte{0, 0, 0x01, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}

// cdiSectorSizes maps the read mode field to the stored sector size.
var cdiSectorSizes = [...]int{
	common.CDDataSize,
	common.CDMode2SectorSize,
	common.CDSectorSize,
	2368, // raw + 16 bytes of subchannel Q
	common.CDSectorSizeSubch,
}

type cdiTrack struct {
	Track
	trackStart int64 // offset of the first data sector in the image
}

// CdiReader reads a DiscJuggler image. All tracks are stored back to back
// in one file, described by a header located from the file's footer.
type CdiReader struct {
	disc.SparseReader
	version    uint32
	sessions   int
	trackCount int
	byNumber   []*cdiTrack // index trackNumber-1, nil for audio tracks
	ranges     []*cdiTrack // data tracks ordered by start LBA
	sector     []byte
}

// IsCdiSupported reports whether footer, the last 8 bytes of a file, is a
// DiscJuggler footer. The format has no header magic.
func IsCdiSupported(footer []byte) bool {
	if len(footer) < cdiFooterSize {
		return false
	}
	switch binary.LittleEndian.Uint32(footer) {
	case CdiV2, CdiV3, CdiV35:
		return binary.LittleEndian.Uint32(footer[4:]) != 0
	}
	return false
}

// NewCdiReader parses the session and track tables of src. The reader
// owns src.
func NewCdiReader(src disc.Reader) (*CdiReader, error) {
	r := &CdiReader{sector: make([]byte, common.CDSectorSize)}
	if src == nil || !src.IsOpen() {
		return r, r.SetError(common.ErrBadFile)
	}
	if err := r.parse(src); err != nil {
		return r, r.SetError(err)
	}

	var last *cdiTrack
	for i := len(r.byNumber) - 1; i >= 0 && last == nil; i-- {
		last = r.byNumber[i]
	}
	if last == nil {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: no data tracks", common.ErrFailedToParseCDI))
	}
	for _, t := range r.byNumber {
		if t != nil {
			r.ranges = append(r.ranges, t)
		}
	}
	sort.SliceStable(r.ranges, func(i, j int) bool {
		return r.ranges[i].BlockStart < r.ranges[j].BlockStart
	})

	blocks := int64(last.BlockEnd) + 1
	r.Init(src, r, common.CDDataSize, blocks*common.CDDataSize)
	return r, nil
}

// cdiParser walks the header as a stream. The first failure sticks and
// every later call is a no-op returning zeros.
type cdiParser struct {
	r    *io.SectionReader
	base int64
	err  error
}

func newCdiParser(ra io.ReaderAt, off, size int64) *cdiParser {
	return &cdiParser{r: io.NewSectionReader(ra, off, size-off), base: off}
}

// pos returns the absolute offset of the cursor.
func (p *cdiParser) pos() int64 {
	off, _ := p.r.Seek(0, io.SeekCurrent)
	return p.base + off
}

func (p *cdiParser) check(err error) {
	if p.err == nil && err != nil {
		p.err = common.WrapErrno(common.ErrIO, "%s: short read at 0x%X: %v", common.ErrFailedToParseCDI, p.pos(), err)
	}
}

func (p *cdiParser) skip(n int64) {
	if p.err == nil {
		p.check(common.SkipBytes(p.r, int(n)))
	}
}

func (p *cdiParser) bytes(n int) []byte {
	if p.err == nil {
		b, err := common.ReadBytes(p.r, n)
		if err == nil {
			return b
		}
		p.check(err)
	}
	return make([]byte, n)
}

func (p *cdiParser) u8() uint8 {
	if p.err != nil {
		return 0
	}
	v, err := common.ReadUint8(p.r)
	p.check(err)
	return v
}

func (p *cdiParser) u16() uint16 {
	if p.err != nil {
		return 0
	}
	v, err := common.ReadUint16LE(p.r)
	p.check(err)
	return v
}

func (p *cdiParser) u32() uint32 {
	if p.err != nil {
		return 0
	}
	v, err := common.ReadUint32LE(p.r)
	p.check(err)
	return v
}

func (r *CdiReader) parse(src disc.Reader) error {
	fail := func(format string, args ...interface{}) error {
		return common.WrapErrno(common.ErrIO, common.ErrFailedToParseCDI+": "+format, args...)
	}

	fileSize := src.Size()
	if fileSize < cdiFooterSize {
		return fail("file is %d bytes", fileSize)
	}
	footer := make([]byte, cdiFooterSize)
	if _, err := disc.SeekAndRead(src, fileSize-cdiFooterSize, footer); err != nil {
		return fail("%v", err)
	}
	if !IsCdiSupported(footer) {
		return fail("unknown version 0x%08X", binary.LittleEndian.Uint32(footer))
	}
	r.version = binary.LittleEndian.Uint32(footer)
	headerOffset := fileSize - int64(binary.LittleEndian.Uint32(footer[4:]))
	if headerOffset < 0 {
		return fail("header offset past the start of the file")
	}

	p := newCdiParser(disc.ReaderAt(src), headerOffset, fileSize)
	sessions := int(p.u16())
	if p.err == nil && sessions == 0 {
		return fail("no sessions")
	}

	trackNumber := 1
	var trackOffset int64
	for session := 0; session < sessions && p.err == nil; session++ {
		numTracks := int(p.u16())
		if p.err == nil && numTracks == 0 {
			return fail("session %d has no tracks", session)
		}
		for i := 0; i < numTracks && p.err == nil; i, trackNumber = i+1, trackNumber+1 {
			if !validTrackNumber(trackNumber) {
				return fail("more than 99 tracks")
			}
			t, length, err := r.parseTrack(p, trackNumber, trackOffset)
			if err != nil {
				return err
			}
			r.byNumber = append(r.byNumber, t)
			trackOffset += length
		}
		p.skip(4 + 8)
		if r.version != CdiV2 {
			p.skip(1)
		}
	}
	if p.err != nil {
		return p.err
	}
	r.sessions = sessions
	r.trackCount = trackNumber - 1
	return nil
}

// parseTrack reads one track record. It returns nil for audio tracks, plus
// the number of bytes the track occupies in the image.
func (r *CdiReader) parseTrack(p *cdiParser, number int, trackOffset int64) (*cdiTrack, int64, error) {
	fail := func(format string, args ...interface{}) error {
		return common.WrapErrno(common.ErrIO, "%s: track %d: %s", common.ErrFailedToParseCDI, number,
			fmt.Sprintf(format, args...))
	}

	p.skip(4)
	mark := p.bytes(2 * len(cdiTrackStartMark))
	if p.err != nil {
		return nil, 0, p.err
	}
	if !bytes.Equal(mark[:10], cdiTrackStartMark) || !bytes.Equal(mark[10:], cdiTrackStartMark) {
		return nil, 0, fail("bad start mark at 0x%X", p.pos()-20)
	}

	// The original filename is not kept.
	p.skip(4)
	nameLen := int64(p.u8())
	p.skip(nameLen + 11 + 4 + 4)
	if p.u32() == cdiV4Marker {
		p.skip(8)
	}

	numIndexes := int(p.u16())
	if p.err == nil && (numIndexes == 0 || numIndexes > cdiMaxIndexes) {
		return nil, 0, fail("%d indexes", numIndexes)
	}
	indexes := make([]uint32, numIndexes)
	for i := range indexes {
		indexes[i] = p.u32()
	}
	var pregap, dataLength uint32
	if numIndexes >= 2 {
		pregap, dataLength = indexes[0], indexes[1]
	} else if numIndexes == 1 {
		dataLength = indexes[0]
	}

	fields := p.bytes(cdiLengthFieldLen)
	if p.err != nil {
		return nil, 0, p.err
	}
	cdTextCount := binary.LittleEndian.Uint32(fields[0:])
	mode := binary.LittleEndian.Uint32(fields[6:])
	startLBA := binary.LittleEndian.Uint32(fields[22:])
	totalLength := binary.LittleEndian.Uint32(fields[26:])
	readMode := binary.LittleEndian.Uint32(fields[46:])
	if cdTextCount != 0 {
		return nil, 0, fail("CD-Text blocks are not supported")
	}
	if readMode >= uint32(len(cdiSectorSizes)) {
		return nil, 0, fail("read mode %d", readMode)
	}
	sectorSize := cdiSectorSizes[readMode]

	p.skip(29)
	if r.version != CdiV2 {
		p.skip(5)
		if p.u32() == cdiExtraMarker {
			p.skip(78)
		}
	}
	length := int64(totalLength) * int64(sectorSize)

	if mode == 0 {
		common.LogDebug(common.DebugTrackSkipped, number)
		return nil, length, p.err
	}
	if dataLength == 0 {
		return nil, 0, fail("data track has no sectors")
	}
	t := &cdiTrack{
		Track: Track{
			Number:     number,
			BlockStart: startLBA + pregap,
			BlockEnd:   startLBA + pregap + dataLength - 1,
			EndKnown:   true,
			SectorSize: sectorSize,
			Pregap:     pregap,
		},
		trackStart: trackOffset + int64(pregap)*int64(sectorSize),
	}
	common.LogDebug(common.DebugTrackOpened, number, "cdi", t.BlockStart, t.BlockEnd, sectorSize)
	return t, length, p.err
}

// Version returns the footer version tag.
func (r *CdiReader) Version() uint32 { return r.version }

// Sessions returns the number of sessions.
func (r *CdiReader) Sessions() int { return r.sessions }

// rangeFor returns the data track holding blockIdx, or nil.
func (r *CdiReader) rangeFor(blockIdx uint32) *cdiTrack {
	i := sort.Search(len(r.ranges), func(i int) bool { return r.ranges[i].BlockStart > blockIdx })
	if i == 0 {
		return nil
	}
	if t := r.ranges[i-1]; blockIdx <= t.BlockEnd {
		return t
	}
	return nil
}

// PhysBlockAddr returns the offset of the sector holding blockIdx, 0 for
// blocks outside every data track, or -1 past the end of the disc.
func (r *CdiReader) PhysBlockAddr(blockIdx uint32) int64 {
	if blockIdx >= r.BlockCount() {
		return -1
	}
	t := r.rangeFor(blockIdx)
	if t == nil {
		return 0
	}
	return t.trackStart + int64(blockIdx-t.BlockStart)*int64(t.SectorSize)
}

// ReadBlock reads the user data of a block. Blocks outside every data
// track read as zeros.
func (r *CdiReader) ReadBlock(blockIdx uint32, pos int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if blockIdx >= r.BlockCount() {
		return 0, common.WrapErrno(common.ErrRange, "block %d out of range", blockIdx)
	}
	t := r.rangeFor(blockIdx)
	if t == nil {
		clear(p)
		return len(p), nil
	}

	addr := t.trackStart + int64(blockIdx-t.BlockStart)*int64(t.SectorSize)
	n, err := readSectorData(r.Src(), addr, t.SectorSize, pos, p, r.sector)
	if err != nil {
		return n, common.WrapErrno(common.Errno(err), "%s %d (track %d): %v", common.ErrFailedToReadBlock, blockIdx, t.Number, err)
	}
	return n, nil
}

// TrackCount returns the number of tracks across all sessions.
func (r *CdiReader) TrackCount() int { return r.trackCount }

// StartingLBA returns the first LBA of a data track, after its pregap, or
// -1.
func (r *CdiReader) StartingLBA(trackNumber int) int {
	t := r.track(trackNumber)
	if t == nil {
		return -1
	}
	return int(t.BlockStart)
}

func (r *CdiReader) track(n int) *cdiTrack {
	if n < 1 || n > len(r.byNumber) {
		return nil
	}
	return r.byNumber[n-1]
}

// Tracks returns the data tracks in track order.
func (r *CdiReader) Tracks() []Track {
	var out []Track
	for _, t := range r.byNumber {
		if t != nil {
			out = append(out, t.Track)
		}
	}
	return out
}

// OpenIsoPartition opens the ISO-9660 filesystem of a data track.
func (r *CdiReader) OpenIsoPartition(trackNumber int) (*iso.Partition, error) {
	if !r.IsOpen() {
		return nil, r.SetError(common.ErrBadFile)
	}
	t := r.track(trackNumber)
	if t == nil {
		return nil, r.SetError(common.WrapErrno(common.ErrNotFound, "track %d is not a data track", trackNumber))
	}
	return openIsoPartition(r, &t.Track)
}

// OpenIsoVolume reads the volume descriptor of a data track as if the
// track were a standalone image.
func (r *CdiReader) OpenIsoVolume(trackNumber int) (*iso.Volume, error) {
	if !r.IsOpen() {
		return nil, r.SetError(common.ErrBadFile)
	}
	t := r.track(trackNumber)
	if t == nil {
		return nil, r.SetError(common.WrapErrno(common.ErrNotFound, "track %d is not a data track", trackNumber))
	}
	return openIsoVolume(r, &t.Track)
}
