package iso

import (
	"io"
	"strings"
	"time"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
)

// rootBlockGuess is the LBA a root directory is assumed to start at when the
// image does not say where the filesystem begins.
const rootBlockGuess = 20

// Partition is an ISO-9660 filesystem starting at a byte offset of a
// 2048-byte-block reader. Directories are loaded on first use and kept for
// the lifetime of the partition.
type Partition struct {
	disc.ErrorState
	r               disc.Reader
	partitionOffset int64
	partitionSize   int64
	// isoStartOffset is the LBA of the filesystem's block 0 relative to
	// the partition, or -1 until the root directory is loaded.
	isoStartOffset int64
	blockSize      int64
	pvd            *PrimaryVolumeDescriptor
	dirs           map[string][]byte
	pos            int64
}

var _ disc.Partition = (*Partition)(nil)

// NewPartition opens the ISO-9660 filesystem at partitionOffset in r.
// isoStartOffset is the track's starting LBA when known, or -1 to infer it
// from the root directory. The partition does not own r.
func NewPartition(r disc.Reader, partitionOffset, isoStartOffset int64) (*Partition, error) {
	p := &Partition{
		partitionOffset: partitionOffset,
		isoStartOffset:  isoStartOffset,
		dirs:            make(map[string][]byte),
	}
	if r == nil {
		return p, p.SetError(common.ErrIO)
	}
	if !r.IsOpen() {
		if err := r.LastError(); err != nil {
			return p, p.SetError(err)
		}
		return p, p.SetError(common.ErrIO)
	}

	sector := make([]byte, DescriptorLen)
	if _, err := disc.SeekAndRead(r, partitionOffset+PVDAddress, sector); err != nil {
		return p, p.SetError(common.WrapErrno(common.ErrIO, "%s: %v", common.ErrFailedToOpenPartition, err))
	}
	pvd, err := ParsePVD(sector)
	if err != nil {
		return p, p.SetError(err)
	}
	p.pvd = pvd
	p.blockSize = int64(pvd.LogicalBlockSize)
	if p.blockSize == 0 {
		p.blockSize = common.CDDataSize
	}

	p.r = r
	p.partitionSize = r.Size() - partitionOffset
	if _, err := p.directory(""); err != nil {
		p.r = nil
		return p, p.SetError(err)
	}
	return p, nil
}

// PVD returns the primary volume descriptor.
func (p *Partition) PVD() *PrimaryVolumeDescriptor { return p.pvd }

// IsoStartOffset returns the LBA the partition's block 0 corresponds to.
func (p *Partition) IsoStartOffset() int64 { return p.isoStartOffset }

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

// PartitionSizeUsed returns the partition size; ISO-9660 has no notion of
// unused blocks.
func (p *Partition) PartitionSizeUsed() int64 { return p.partitionSize }

// IsOpen reports whether the partition and its reader are usable.
func (p *Partition) IsOpen() bool { return p.r != nil && p.r.IsOpen() }

// Close detaches the partition from its reader.
func (p *Partition) Close() error {
	p.r = nil
	p.dirs = nil
	return nil
}

// directory returns the raw records of the directory at path, loading it
// and its parents as needed.
func (p *Partition) directory(path string) ([]byte, error) {
	path = common.NormalizePath(path)
	if dir, ok := p.dirs[path]; ok {
		return dir, nil
	}
	if p.r == nil {
		return nil, common.ErrIO
	}

	var rec dirRecord
	if path == "" {
		rec = p.pvd.root
		if err := p.resolveStartOffset(rec.block); err != nil {
			return nil, err
		}
	} else {
		parentPath, name := splitPath(path)
		parent, err := p.directory(parentPath)
		if err != nil {
			return nil, err
		}
		if rec, err = lookupRecord(parent, name, true); err != nil {
			return nil, err
		}
	}

	if rec.size > maxDirectorySize {
		return nil, common.WrapErrno(common.ErrIO, "%s: %q is %d bytes", common.ErrDirectoryTooLarge, path, rec.size)
	}
	dir := make([]byte, rec.size)
	addr := p.partitionOffset + (int64(rec.block)-p.isoStartOffset)*p.blockSize
	if _, err := disc.SeekAndRead(p.r, addr, dir); err != nil {
		if lerr := p.r.LastError(); lerr != nil {
			err = lerr
		}
		return nil, common.WrapErrno(common.Errno(err), "%s %q: %v", common.ErrFailedToReadDirectory, path, err)
	}

	common.LogDebug(common.DebugDirectoryLoaded, path, len(dir))
	p.dirs[path] = dir
	return dir, nil
}

// resolveStartOffset checks the root directory block against a known start
// offset, or derives the start offset from it.
func (p *Partition) resolveStartOffset(rootBlock uint32) error {
	if p.isoStartOffset >= 0 {
		if int64(rootBlock) < p.isoStartOffset+2 {
			return common.WrapErrno(common.ErrIO, "root directory block %d is before start offset %d", rootBlock, p.isoStartOffset)
		}
		return nil
	}
	if rootBlock < rootBlockGuess {
		return common.WrapErrno(common.ErrIO, "root directory block %d is below %d", rootBlock, rootBlockGuess)
	}
	p.isoStartOffset = int64(rootBlock) - rootBlockGuess
	common.LogDebug(common.DebugIsoStartOffset, p.isoStartOffset, rootBlock)
	return nil
}

// splitPath splits a normalized path at its last slash.
func splitPath(path string) (dir, name string) {
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

// walkRecords calls fn for every record in a directory blob. Zero bytes
// between records are sector padding and are skipped.
func walkRecords(dir []byte, fn func(rec dirRecord) bool) {
	for off := 0; off < len(dir); {
		if dir[off] == 0 {
			off++
			continue
		}
		rec, ok := parseDirRecord(dir[off:])
		if !ok {
			return
		}
		if !fn(rec) {
			return
		}
		off += int(rec.length)
	}
}

func isSelfOrParent(name string) bool {
	return common.IsSpecialDirEntry(name)
}

// lookupRecord finds name in a directory blob. Names compare without regard
// to ASCII case and may carry a ";1" suffix on disc. A name that matches
// with the wrong type yields EISDIR or ENOTDIR.
func lookupRecord(dir []byte, name string, findDir bool) (dirRecord, error) {
	var found dirRecord
	err := common.WrapErrno(common.ErrNotFound, "%q", name)
	walkRecords(dir, func(rec dirRecord) bool {
		if isSelfOrParent(rec.name) {
			return true
		}
		switch {
		case len(rec.name) == len(name)+2:
			if !strings.HasSuffix(rec.name, ";1") || !common.EqualFoldASCII(rec.name[:len(name)], name) {
				return true
			}
		case len(rec.name) == len(name):
			if !common.EqualFoldASCII(rec.name, name) {
				return true
			}
		default:
			return true
		}

		if rec.isDir() != findDir {
			if rec.isDir() {
				err = common.WrapErrno(common.ErrIsDir, "%q", name)
			} else {
				err = common.WrapErrno(common.ErrNotDir, "%q", name)
			}
			return false
		}
		found, err = rec, nil
		return false
	})
	return found, err
}

// lookup resolves a file path to its directory record.
func (p *Partition) lookup(path string) (dirRecord, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return dirRecord{}, common.WrapErrno(common.ErrInvalid, "empty path")
	}
	parentPath, name := splitPath(path)
	dir, err := p.directory(parentPath)
	if err != nil {
		return dirRecord{}, err
	}
	return lookupRecord(dir, name, false)
}

// Open returns a view of a regular file.
func (p *Partition) Open(path string) (*disc.PartitionFile, error) {
	if !p.IsOpen() {
		return nil, p.SetError(common.ErrBadFile)
	}
	rec, err := p.lookup(path)
	if err != nil {
		return nil, p.SetError(err)
	}
	if rec.flags&flagAssociated != 0 {
		return nil, p.SetError(common.WrapErrno(common.ErrPermission, "%q is an associated file", path))
	}

	addr := (int64(rec.block) - p.isoStartOffset) * p.blockSize
	if addr < 0 || addr >= p.partitionSize || addr > p.partitionSize-int64(rec.size) {
		return nil, p.SetError(common.WrapErrno(common.ErrIO, "%q at 0x%X+%d is outside the partition", path, addr, rec.size))
	}
	return disc.NewNamedPartitionFile(p, strings.TrimLeft(path, "/"), addr, int64(rec.size)), nil
}

// ModTime returns a file's recording time.
func (p *Partition) ModTime(path string) (time.Time, error) {
	if !p.IsOpen() {
		return time.Time{}, p.SetError(common.ErrBadFile)
	}
	rec, err := p.lookup(path)
	if err != nil {
		return time.Time{}, p.SetError(err)
	}
	return recordTime(rec.mtime), nil
}

// ReadDir lists a directory. Names are returned without their ";1" suffix.
func (p *Partition) ReadDir(path string) ([]disc.DirEntry, error) {
	if !p.IsOpen() {
		return nil, p.SetError(common.ErrBadFile)
	}
	dir, err := p.directory(path)
	if err != nil {
		return nil, p.SetError(err)
	}

	var entries []disc.DirEntry
	walkRecords(dir, func(rec dirRecord) bool {
		if isSelfOrParent(rec.name) {
			return true
		}
		entries = append(entries, disc.DirEntry{
			Name:    common.CleanFileName(rec.name),
			Size:    int64(rec.size),
			IsDir:   rec.isDir(),
			ModTime: recordTime(rec.mtime),
			Offset:  (int64(rec.block) - p.isoStartOffset) * p.blockSize,
		})
		return true
	})
	return entries, nil
}
