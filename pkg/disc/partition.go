package disc

import (
	"io"
	"time"

	"github.com/hansbonini/romdisc/pkg/common"
)

// Partition is a region of a disc with filesystem semantics.
type Partition interface {
	Reader
	// Open returns a view of a regular file. path uses forward slashes.
	Open(path string) (*PartitionFile, error)
	// PartitionSize returns the size of the partition including its header.
	PartitionSize() int64
	// PartitionSizeUsed returns the size of the used area.
	PartitionSizeUsed() int64
}

// DirEntry describes a file or directory inside a partition.
type DirEntry struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime time.Time
	Offset  int64 // Byte offset of the file data within the partition
}

// MultiTrack is implemented by images that hold several tracks, some of
// them ISO-9660 data tracks (GD-ROM and DiscJuggler images).
type MultiTrack interface {
	Reader
	TrackCount() int
	// StartingLBA returns the first LBA of a track, or -1 if it is not a
	// data track.
	StartingLBA(trackNumber int) int
}

// PartitionFile is a byte-range view of a partition, used to hand a file
// found inside a filesystem to another parser. It keeps its own cursor and
// does not own the parent.
type PartitionFile struct {
	ErrorState
	parent Reader
	offset int64
	size   int64
	pos    int64
	name   string
}

// NewPartitionFile creates a view of [offset, offset+size) in parent.
func NewPartitionFile(parent Reader, offset, size int64) *PartitionFile {
	f := &PartitionFile{parent: parent, offset: offset, size: size}
	if parent == nil || !parent.IsOpen() {
		f.parent = nil
		f.SetError(common.ErrBadFile)
	}
	return f
}

// NewNamedPartitionFile is NewPartitionFile with a file name attached.
func NewNamedPartitionFile(parent Reader, name string, offset, size int64) *PartitionFile {
	f := NewPartitionFile(parent, offset, size)
	f.name = name
	return f
}

// Name returns the path the file was opened with, if any.
func (f *PartitionFile) Name() string { return f.name }

// Offset returns the start of the file within its parent.
func (f *PartitionFile) Offset() int64 { return f.offset }

// Read seeks the parent and reads from it in one step, so the parent's own
// cursor is not relied upon between calls.
func (f *PartitionFile) Read(p []byte) (int, error) {
	if !f.IsOpen() {
		return 0, f.SetError(common.ErrBadFile)
	}
	if f.pos >= f.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if remain := f.size - f.pos; int64(len(p)) > remain {
		p = p[:remain]
	}

	n, err := SeekAndRead(f.parent, f.offset+f.pos, p)
	f.pos += int64(n)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = common.WrapErrno(common.ErrIO, "short read at 0x%X", f.offset+f.pos)
		}
		return n, f.SetError(err)
	}
	return n, nil
}

// ReadAt implements io.ReaderAt without moving the file cursor.
func (f *PartitionFile) ReadAt(p []byte, off int64) (int, error) {
	if !f.IsOpen() {
		return 0, f.SetError(common.ErrBadFile)
	}
	if off < 0 {
		return 0, common.ErrInvalid
	}
	if off >= f.size {
		return 0, io.EOF
	}
	short := false
	if remain := f.size - off; int64(len(p)) > remain {
		p = p[:remain]
		short = true
	}
	n, err := SeekAndRead(f.parent, f.offset+off, p)
	if err != nil {
		return n, f.SetError(err)
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the position, clamped to [0, Size()].
func (f *PartitionFile) Seek(pos int64) error {
	if !f.IsOpen() {
		return f.SetError(common.ErrBadFile)
	}
	f.pos = clamp(pos, f.size)
	return nil
}

// Tell returns the current position.
func (f *PartitionFile) Tell() int64 { return f.pos }

// Size returns the file size.
func (f *PartitionFile) Size() int64 { return f.size }

// IsOpen reports whether the parent is still open.
func (f *PartitionFile) IsOpen() bool { return f.parent != nil && f.parent.IsOpen() }

// Close detaches the file from its parent. The parent stays open.
func (f *PartitionFile) Close() error {
	f.parent = nil
	return nil
}

// ReadAll reads the whole file from the start.
func (f *PartitionFile) ReadAll() ([]byte, error) {
	size, err := common.SafeInt64ToInt(f.size)
	if err != nil {
		return nil, f.SetError(common.WrapErrno(common.ErrRange, "%s: %v", f.name, err))
	}
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return buf[:n], err
	}
	return buf[:n], nil
}
