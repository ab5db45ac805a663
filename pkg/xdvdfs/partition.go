// Package xdvdfs reads the Xbox DVD filesystem (XDVDFS), the filesystem of
// Xbox and Xbox 360 game partitions.
package xdvdfs

import (
	"encoding/binary"
	"io"
	"strings"
	"time"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
)

// XDVDFS layout constants
const (
	BlockSize  = 2048
	HeaderLBA  = 32
	Magic      = "MICROSOFT*XBOX*MEDIA"
	footerOff  = 0x7EC
	headerSize = BlockSize

	dirEntrySize  = 14
	attrDirectory = 0x10

	maxDirectorySize = 16 << 20

	// filetimeEpochDelta is 1601-01-01 to 1970-01-01 in 100 ns ticks.
	filetimeEpochDelta = 116444736000000000
)

// Header is the volume descriptor at LBA 32 of the partition.
type Header struct {
	RootDirSector uint32
	RootDirSize   uint32
	Timestamp     time.Time
}

// IsHeader reports whether block is an XDVDFS header. The magic must be
// present at the start and at the footer.
func IsHeader(block []byte) bool {
	return len(block) >= headerSize &&
		string(block[:len(Magic)]) == Magic &&
		string(block[footerOff:footerOff+len(Magic)]) == Magic
}

// FiletimeToTime converts a Windows FILETIME (100 ns ticks since 1601) to
// UTC.
func FiletimeToTime(ft uint64) time.Time {
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(ticks/10_000_000, (ticks%10_000_000)*100).UTC()
}

// dirEntry is a node of a directory table's binary search tree. Subtree
// offsets count 4-byte units from the start of the table.
type dirEntry struct {
	left, right uint16
	startSector uint32
	fileSize    uint32
	attributes  uint8
	name        string
}

func (e *dirEntry) isDir() bool { return e.attributes&attrDirectory != 0 }

// parseDirEntry decodes the node at off. ok is false if the node runs past
// the table or is unused fill.
func parseDirEntry(table []byte, off int) (e dirEntry, ok bool) {
	if off < 0 || off+dirEntrySize > len(table) {
		return e, false
	}
	b := table[off:]
	e.left = binary.LittleEndian.Uint16(b[0:])
	e.right = binary.LittleEndian.Uint16(b[2:])
	if e.left == 0xFFFF && e.right == 0xFFFF {
		return e, false
	}
	e.startSector = binary.LittleEndian.Uint32(b[4:])
	e.fileSize = binary.LittleEndian.Uint32(b[8:])
	e.attributes = b[12]
	nameLen := int(b[13])
	if off+dirEntrySize+nameLen > len(table) {
		return e, false
	}
	e.name = string(b[dirEntrySize : dirEntrySize+nameLen])
	return e, true
}

// findEntry searches a directory table for name. Names compare with ASCII
// case folding, as the Xbox tools do.
func findEntry(table []byte, name string) (dirEntry, bool) {
	off := 0
	for steps := 0; steps <= len(table)/dirEntrySize; steps++ {
		e, ok := parseDirEntry(table, off)
		if !ok {
			return e, false
		}
		var next uint16
		switch cmp := common.CompareFoldASCII(name, e.name); {
		case cmp == 0:
			return e, true
		case cmp < 0:
			next = e.left
		default:
			next = e.right
		}
		if next == 0 || next == 0xFFFF {
			return dirEntry{}, false
		}
		off = int(next) * 4
	}
	// A table whose links form a cycle.
	return dirEntry{}, false
}

// walkTable visits every node in name order.
func walkTable(table []byte, fn func(e dirEntry)) {
	seen := make(map[int]bool)
	var visit func(off int)
	visit = func(off int) {
		if seen[off] {
			return
		}
		seen[off] = true
		e, ok := parseDirEntry(table, off)
		if !ok {
			return
		}
		if e.left != 0 && e.left != 0xFFFF {
			visit(int(e.left) * 4)
		}
		fn(e)
		if e.right != 0 && e.right != 0xFFFF {
			visit(int(e.right) * 4)
		}
	}
	visit(0)
}

// Partition is an XDVDFS filesystem at a byte offset of a reader.
// Directory tables are loaded on first use and cached by path.
type Partition struct {
	disc.ErrorState
	r               disc.Reader
	partitionOffset int64
	partitionSize   int64
	header          Header
	dirs            map[string][]byte
	pos             int64
}

var _ disc.Partition = (*Partition)(nil)

// NewPartition opens the XDVDFS filesystem at partitionOffset. A negative
// partitionSize extends the partition to the end of r. The partition does
// not own r.
func NewPartition(r disc.Reader, partitionOffset, partitionSize int64) (*Partition, error) {
	p := &Partition{partitionOffset: partitionOffset, dirs: make(map[string][]byte)}
	if r == nil {
		return p, p.SetError(common.ErrIO)
	}
	if !r.IsOpen() {
		if err := r.LastError(); err != nil {
			return p, p.SetError(err)
		}
		return p, p.SetError(common.ErrIO)
	}
	if partitionSize < 0 {
		partitionSize = r.Size() - partitionOffset
	}
	p.partitionSize = partitionSize

	block := make([]byte, headerSize)
	if _, err := disc.SeekAndRead(r, partitionOffset+HeaderLBA*BlockSize, block); err != nil {
		return p, p.SetError(common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToOpenPartition, err))
	}
	if !IsHeader(block) {
		return p, p.SetError(common.WrapErrno(common.ErrIO, "%s: no XDVDFS header", common.ErrInvalidMagic))
	}
	p.header = Header{
		RootDirSector: binary.LittleEndian.Uint32(block[0x14:]),
		RootDirSize:   binary.LittleEndian.Uint32(block[0x18:]),
		Timestamp:     FiletimeToTime(binary.LittleEndian.Uint64(block[0x1C:])),
	}

	p.r = r
	if _, err := p.directory(""); err != nil {
		p.r = nil
		return p, p.SetError(err)
	}
	return p, nil
}

// Header returns the volume header.
func (p *Partition) Header() Header { return p.header }

// Timestamp returns the volume creation time.
func (p *Partition) Timestamp() time.Time { return p.header.Timestamp }

// Read reads partition data from the current position.
func (p *Partition) Read(b []byte) (int, error) {
	if !p.IsOpen() {
		return 0, p.SetError(common.ErrBadFile)
	}
	if p.pos >= p.partitionSize {
		return 0, io.EOF
	}
	if remain := p.partitionSize - p.pos; int64(len(b)) > remain {
		b = b[:remain]
	}
	if err := p.r.Seek(p.partitionOffset + p.pos); err != nil {
		return 0, p.SetError(err)
	}
	n, err := io.ReadFull(p.r, b)
	p.pos += int64(n)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = common.WrapErrno(common.ErrIO, "short read at partition offset 0x%X", p.pos)
		}
		return n, p.SetError(err)
	}
	return n, nil
}

// Seek sets the position within the partition.
func (p *Partition) Seek(pos int64) error {
	if !p.IsOpen() {
		return p.SetError(common.ErrBadFile)
	}
	p.pos = min(max(pos, 0), p.partitionSize)
	return nil
}

// Tell returns the position within the partition.
func (p *Partition) Tell() int64 { return p.pos }

// Size returns the partition size.
func (p *Partition) Size() int64 { return p.partitionSize }

// PartitionSize returns the partition size.
func (p *Partition) PartitionSize() int64 { return p.partitionSize }

// PartitionSizeUsed returns the partition size.
func (p *Partition) PartitionSizeUsed() int64 { return p.partitionSize }

// IsOpen reports whether the partition and its reader are usable.
func (p *Partition) IsOpen() bool { return p.r != nil && p.r.IsOpen() }

// Close detaches the partition from its reader.
func (p *Partition) Close() error {
	p.r = nil
	p.dirs = nil
	return nil
}

// directory returns the table for path, resolving each component through
// its parent's table.
func (p *Partition) directory(path string) ([]byte, error) {
	path = common.NormalizePath(path)
	if table, ok := p.dirs[path]; ok {
		return table, nil
	}
	if p.r == nil {
		return nil, common.ErrIO
	}

	var sector, size uint32
	if path == "" {
		sector, size = p.header.RootDirSector, p.header.RootDirSize
	} else {
		parentPath, name := "", path
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			parentPath, name = path[:i], path[i+1:]
		}
		parent, err := p.directory(parentPath)
		if err != nil {
			return nil, err
		}
		e, ok := findEntry(parent, name)
		if !ok {
			return nil, common.WrapErrno(common.ErrNotFound, "%q", path)
		}
		if !e.isDir() {
			return nil, common.WrapErrno(common.ErrNotDir, "%q", path)
		}
		sector, size = e.startSector, e.fileSize
	}

	if size > maxDirectorySize {
		return nil, common.WrapErrno(common.ErrIO, "%s: %q is %d bytes", common.ErrDirectoryTooLarge, path, size)
	}
	table := make([]byte, size)
	addr := p.partitionOffset + int64(sector)*BlockSize
	if _, err := disc.SeekAndRead(p.r, addr, table); err != nil {
		if lerr := p.r.LastError(); lerr != nil {
			err = lerr
		}
		return nil, common.WrapErrno(common.Errno(err), "%s %q: %v", common.ErrFailedToReadDirectory, path, err)
	}

	common.LogDebug(common.DebugDirectoryLoaded, path, len(table))
	p.dirs[path] = table
	return table, nil
}

// lookup resolves a path to its directory entry.
func (p *Partition) lookup(path string) (dirEntry, error) {
	path = common.NormalizePath(path)
	if path == "" {
		return dirEntry{}, common.WrapErrno(common.ErrInvalid, "empty path")
	}
	parentPath, name := "", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		parentPath, name = path[:i], path[i+1:]
	}
	table, err := p.directory(parentPath)
	if err != nil {
		return dirEntry{}, err
	}
	e, ok := findEntry(table, name)
	if !ok {
		return dirEntry{}, common.WrapErrno(common.ErrNotFound, "%q", path)
	}
	return e, nil
}

// Open returns a view of a regular file.
func (p *Partition) Open(path string) (*disc.PartitionFile, error) {
	if !p.IsOpen() {
		return nil, p.SetError(common.ErrBadFile)
	}
	e, err := p.lookup(path)
	if err != nil {
		return nil, p.SetError(err)
	}
	if e.isDir() {
		return nil, p.SetError(common.WrapErrno(common.ErrIsDir, "%q", path))
	}

	addr := int64(e.startSector) * BlockSize
	if addr >= p.partitionSize || addr > p.partitionSize-int64(e.fileSize) {
		return nil, p.SetError(common.WrapErrno(common.ErrIO, "%q at 0x%X+%d is outside the partition", path, addr, e.fileSize))
	}
	return disc.NewNamedPartitionFile(p, common.NormalizePath(path), addr, int64(e.fileSize)), nil
}

// ReadDir lists a directory in table order, which is sorted by name.
// XDVDFS entries carry no timestamps; the volume time is reported instead.
func (p *Partition) ReadDir(path string) ([]disc.DirEntry, error) {
	if !p.IsOpen() {
		return nil, p.SetError(common.ErrBadFile)
	}
	table, err := p.directory(path)
	if err != nil {
		return nil, p.SetError(err)
	}

	var entries []disc.DirEntry
	walkTable(table, func(e dirEntry) {
		entries = append(entries, disc.DirEntry{
			Name:    e.name,
			Size:    int64(e.fileSize),
			IsDir:   e.isDir(),
			ModTime: p.header.Timestamp,
			Offset:  int64(e.startSector) * BlockSize,
		})
	})
	return entries, nil
}
