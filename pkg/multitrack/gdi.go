package multitrack

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/hansbonini/romdisc/pkg/iso"
)

// GDI cuesheet limits
const (
	GdiMaxSize      = 4096
	gdiMaxBlockAddr = 2097152
	gdiTypeAudio    = 0
	gdiTypeData     = 4
)

type gdiTrack struct {
	Track
	file disc.Source
}

// GdiReader reads a GD-ROM image described by a .gdi cuesheet. Each track
// lives in its own file next to the cuesheet; files are opened the first
// time a block of their track is read.
type GdiReader struct {
	disc.SparseReader
	trackCount int
	byNumber   []*gdiTrack // index trackNumber-1, nil for audio tracks
	ranges     []*gdiTrack // data tracks ordered by start LBA
	sector     []byte
}

// IsGdiSupported reports whether header starts like a GDI cuesheet: a track
// count of 1 to 99 on a line of its own.
func IsGdiSupported(header []byte) bool {
	n := 0
	for i, c := range header {
		if i > 3 {
			return false
		}
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int(c-'0')
		case c == '\r' || c == '\n':
			return i > 0 && validTrackNumber(n)
		default:
			return false
		}
	}
	return false
}

// NewGdiReader parses the cuesheet in src. Track 3, the GD-ROM data track,
// and the last data track are opened up front; the last one fixes the disc
// size. The reader owns src and the track files it opens.
func NewGdiReader(src disc.Source) (*GdiReader, error) {
	r := &GdiReader{sector: make([]byte, common.CDSectorSize)}
	if src == nil || !src.IsOpen() {
		return r, r.SetError(common.ErrBadFile)
	}

	size := src.Size()
	if size <= 0 || size > GdiMaxSize {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: %d bytes", common.ErrFailedToParseCuesheet, size))
	}
	text := make([]byte, size)
	if _, err := disc.SeekAndRead(src, 0, text); err != nil {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToParseCuesheet, err))
	}
	count, tracks, err := parseGdi(text)
	if err != nil {
		return r, r.SetError(err)
	}
	r.trackCount = count
	r.byNumber = tracks
	for _, t := range tracks {
		if t != nil {
			r.ranges = append(r.ranges, t)
		}
	}
	if len(r.ranges) == 0 {
		return r, r.SetError(common.WrapErrno(common.ErrIO, "%s: no data tracks", common.ErrFailedToParseCuesheet))
	}
	sort.SliceStable(r.ranges, func(i, j int) bool {
		return r.ranges[i].BlockStart < r.ranges[j].BlockStart
	})

	// Open the tracks against src before Init so openTrack can resolve
	// sibling files.
	if count >= 3 && tracks[2] != nil {
		if err := r.openTrack(src, tracks[2]); err != nil {
			common.LogWarn(common.WarnTrackOpenFailed, 3, err)
		}
	}
	last := r.lastDataTrack()
	if err := r.openTrack(src, last); err != nil {
		r.closeTracks()
		return r, r.SetError(err)
	}

	blocks := int64(last.BlockEnd) + 1
	r.Init(src, r, common.CDDataSize, blocks*common.CDDataSize)
	return r, nil
}

// parseGdi returns the declared track count and the data tracks indexed
// by track number.
func parseGdi(text []byte) (int, []*gdiTrack, error) {
	fail := func(line int, format string, args ...interface{}) error {
		return common.WrapErrno(common.ErrIO, "%s: line %d: %s", common.ErrFailedToParseCuesheet, line, fmt.Sprintf(format, args...))
	}

	sc := bufio.NewScanner(bytes.NewReader(text))
	lineNo := 0
	count := 0
	var tracks []*gdiTrack
	seen := make(map[int]bool)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if count == 0 {
			n, err := strconv.Atoi(line)
			if err != nil || !validTrackNumber(n) {
				return 0, nil, fail(lineNo, "bad track count %q", line)
			}
			count = n
			tracks = make([]*gdiTrack, count)
			continue
		}

		fields := splitGdiLine(line)
		if len(fields) < 6 {
			return 0, nil, fail(lineNo, "expected 6 fields, got %d", len(fields))
		}
		num, err1 := strconv.Atoi(fields[0])
		lba, err2 := strconv.ParseUint(fields[1], 10, 32)
		typ, err3 := strconv.Atoi(fields[2])
		ss, err4 := strconv.Atoi(fields[3])
		reserved, err5 := strconv.Atoi(fields[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return 0, nil, fail(lineNo, "malformed track entry %q", line)
		}
		switch {
		case num < 1 || num > count:
			return 0, nil, fail(lineNo, "track %d out of range 1-%d", num, count)
		case seen[num]:
			return 0, nil, fail(lineNo, "duplicate track %d", num)
		case lba > gdiMaxBlockAddr:
			return 0, nil, fail(lineNo, "track %d starts at LBA %d", num, lba)
		case ss != common.CDDataSize && ss != common.CDSectorSize:
			return 0, nil, fail(lineNo, "%s %d", common.ErrInvalidSectorSize, ss)
		case reserved != 0:
			return 0, nil, fail(lineNo, "reserved field is %d", reserved)
		case fields[4] == "":
			return 0, nil, fail(lineNo, "track %d has no filename", num)
		}
		seen[num] = true

		switch typ {
		case gdiTypeAudio:
			common.LogDebug(common.DebugTrackSkipped, num)
			continue
		case gdiTypeData:
		default:
			return 0, nil, fail(lineNo, "track %d has unknown type %d", num, typ)
		}
		tracks[num-1] = &gdiTrack{Track: Track{
			Number:     num,
			BlockStart: uint32(lba),
			SectorSize: ss,
			Filename:   fields[4],
		}}
	}
	if err := sc.Err(); err != nil {
		return 0, nil, common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToParseCuesheet, err)
	}
	if count == 0 {
		return 0, nil, common.WrapErrno(common.ErrIO, "%s: empty cuesheet", common.ErrFailedToParseCuesheet)
	}
	return count, tracks, nil
}

// splitGdiLine splits on whitespace. Filenames may be double-quoted to
// carry spaces.
func splitGdiLine(line string) []string {
	var fields []string
	for line = strings.TrimSpace(line); line != ""; line = strings.TrimSpace(line) {
		if line[0] == '"' {
			if end := strings.IndexByte(line[1:], '"'); end >= 0 {
				fields = append(fields, line[1:end+1])
				line = line[end+2:]
				continue
			}
		}
		end := strings.IndexAny(line, " \t")
		if end < 0 {
			end = len(line)
		}
		fields = append(fields, line[:end])
		line = line[end:]
	}
	return fields
}

func (r *GdiReader) lastDataTrack() *gdiTrack {
	for i := len(r.byNumber) - 1; i >= 0; i-- {
		if r.byNumber[i] != nil {
			return r.byNumber[i]
		}
	}
	return nil
}

// openTrack opens a track's file through the cuesheet's sibling lookup
// and fixes its end LBA from the file size.
func (r *GdiReader) openTrack(gdi disc.Source, t *gdiTrack) error {
	if t.file != nil {
		return nil
	}
	if gdi == nil {
		return common.ErrBadFile
	}

	base, ext := t.Filename, ""
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base, ext = base[:i], base[i:]
	} else if t.SectorSize == common.CDDataSize {
		ext = ".iso"
	} else {
		ext = ".bin"
	}

	f, err := gdi.OpenRelated(base, ext)
	if err != nil {
		return common.WrapErrno(common.ErrNotFound, "%s %d: %v", common.ErrFailedToOpenTrack, t.Number, err)
	}
	size := f.Size()
	if size <= 0 || size%int64(t.SectorSize) != 0 {
		f.Close()
		return common.WrapErrno(common.ErrIO, "%s %d: %s (%d bytes, %d-byte sectors)",
			common.ErrFailedToOpenTrack, t.Number, common.ErrSourceNotMultipleOfSec, size, t.SectorSize)
	}

	t.file = f
	t.BlockEnd = t.BlockStart + uint32(size/int64(t.SectorSize)) - 1
	t.EndKnown = true
	common.LogDebug(common.DebugTrackOpened, t.Number, f.Filename(), t.BlockStart, t.BlockEnd, t.SectorSize)
	return nil
}

// rangeFor returns the data track with the greatest start LBA not past
// blockIdx. Only that track can hold the block, so no other track file is
// touched.
func (r *GdiReader) rangeFor(blockIdx uint32) *gdiTrack {
	i := sort.Search(len(r.ranges), func(i int) bool { return r.ranges[i].BlockStart > blockIdx })
	if i == 0 {
		return nil
	}
	return r.ranges[i-1]
}

// PhysBlockAddr returns the offset of blockIdx within its track file. The
// value is relative to that file, so ReadBlock does not rely on it to spot
// holes.
func (r *GdiReader) PhysBlockAddr(blockIdx uint32) int64 {
	if blockIdx >= r.BlockCount() {
		return -1
	}
	t := r.rangeFor(blockIdx)
	if t == nil || t.file == nil || blockIdx > t.BlockEnd {
		return 0
	}
	return int64(blockIdx-t.BlockStart) * int64(t.SectorSize)
}

// ReadBlock reads from the track holding blockIdx, opening its file if
// needed. Blocks between tracks read as zeros.
func (r *GdiReader) ReadBlock(blockIdx uint32, pos int, p []byte) (int, error) {
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
	if err := r.openTrack(r.source(), t); err != nil {
		return 0, err
	}
	if blockIdx > t.BlockEnd {
		clear(p)
		return len(p), nil
	}

	addr := int64(blockIdx-t.BlockStart) * int64(t.SectorSize)
	n, err := readSectorData(t.file, addr, t.SectorSize, pos, p, r.sector)
	if err != nil {
		return n, common.WrapErrno(common.Errno(err), "%s %d (track %d): %v", common.ErrFailedToReadBlock, blockIdx, t.Number, err)
	}
	return n, nil
}

func (r *GdiReader) source() disc.Source {
	src, _ := r.Src().(disc.Source)
	return src
}

// TrackCount returns the number of tracks declared by the cuesheet,
// including audio tracks.
func (r *GdiReader) TrackCount() int { return r.trackCount }

// StartingLBA returns the first LBA of a data track, or -1.
func (r *GdiReader) StartingLBA(trackNumber int) int {
	t := r.track(trackNumber)
	if t == nil {
		return -1
	}
	return int(t.BlockStart)
}

func (r *GdiReader) track(n int) *gdiTrack {
	if n < 1 || n > len(r.byNumber) {
		return nil
	}
	return r.byNumber[n-1]
}

// Tracks returns the data tracks in track order.
func (r *GdiReader) Tracks() []Track {
	var out []Track
	for _, t := range r.byNumber {
		if t != nil {
			out = append(out, t.Track)
		}
	}
	return out
}

// OpenIsoPartition opens the ISO-9660 filesystem of a data track.
func (r *GdiReader) OpenIsoPartition(trackNumber int) (*iso.Partition, error) {
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
func (r *GdiReader) OpenIsoVolume(trackNumber int) (*iso.Volume, error) {
	if !r.IsOpen() {
		return nil, r.SetError(common.ErrBadFile)
	}
	t := r.track(trackNumber)
	if t == nil {
		return nil, r.SetError(common.WrapErrno(common.ErrNotFound, "track %d is not a data track", trackNumber))
	}
	if err := r.openTrack(r.source(), t); err != nil {
		return nil, r.SetError(err)
	}
	return openIsoVolume(r, &t.Track)
}

func (r *GdiReader) closeTracks() {
	for _, t := range r.ranges {
		if t.file != nil {
			t.file.Close()
			t.file = nil
		}
	}
}

// Close closes the track files and the cuesheet.
func (r *GdiReader) Close() error {
	r.closeTracks()
	return r.SparseReader.Close()
}
