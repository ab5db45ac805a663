package source

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/spf13/afero"
	"golang.org/x/exp/mmap"
)

// Mmap is a read-only memory-mapped file on the host filesystem.
type Mmap struct {
	disc.ErrorState
	ra   *mmap.ReaderAt
	name string
	pos  int64
}

var _ disc.Source = (*Mmap)(nil)

// OpenMmap maps name into memory.
func OpenMmap(name string) (*Mmap, error) {
	ra, err := mmap.Open(name)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToOpenSource, err)
	}
	return &Mmap{ra: ra, name: name}, nil
}

// Read reads from the current position.
func (m *Mmap) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads at an absolute offset.
func (m *Mmap) ReadAt(p []byte, off int64) (int, error) {
	if m.ra == nil {
		return 0, m.SetError(common.ErrBadFile)
	}
	if off >= int64(m.ra.Len()) {
		return 0, io.EOF
	}
	return m.ra.ReadAt(p, off)
}

// Seek sets the cursor.
func (m *Mmap) Seek(pos int64) error {
	if m.ra == nil {
		return m.SetError(common.ErrBadFile)
	}
	if pos < 0 {
		return m.SetError(common.WrapErrno(common.ErrInvalid, "negative seek %d", pos))
	}
	m.pos = pos
	return nil
}

// Tell returns the cursor position.
func (m *Mmap) Tell() int64 { return m.pos }

// Size returns the mapped length.
func (m *Mmap) Size() int64 {
	if m.ra == nil {
		return -1
	}
	return int64(m.ra.Len())
}

// IsOpen reports whether the mapping is live.
func (m *Mmap) IsOpen() bool { return m.ra != nil }

// Filename returns the mapped path.
func (m *Mmap) Filename() string { return m.name }

// Close unmaps the file.
func (m *Mmap) Close() error {
	if m.ra == nil {
		return nil
	}
	err := m.ra.Close()
	m.ra = nil
	return err
}

// OpenRelated maps a sibling file, trying the same case permutations as File.
func (m *Mmap) OpenRelated(baseName, ext string) (disc.Source, error) {
	// Resolve the name through the host filesystem, then map the hit.
	f, err := openRelated(afero.NewOsFs(), m.name, baseName, ext)
	if err != nil {
		return nil, err
	}
	name := f.Filename()
	f.Close()
	return OpenMmap(name)
}

// OpenSource opens name either as a memory-mapped file or as a regular file.
func OpenSource(name string, useMmap bool) (disc.Source, error) {
	if useMmap {
		return OpenMmap(name)
	}
	return Open(name)
}
