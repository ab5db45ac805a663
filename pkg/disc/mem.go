package disc

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
)

// MemReader is a Source over a byte slice. It is used for headers that were
// read ahead and for images built in memory.
type MemReader struct {
	ErrorState
	data   []byte
	name   string
	pos    int64
	closed bool
}

var _ Source = (*MemReader)(nil)

// NewMemReader returns a reader over data. The slice is not copied.
func NewMemReader(data []byte) *MemReader {
	return &MemReader{data: data}
}

// NewNamedMemReader returns a reader over data that reports name as its filename.
func NewNamedMemReader(name string, data []byte) *MemReader {
	return &MemReader{data: data, name: name}
}

// Read reads from the current position.
func (m *MemReader) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads at an absolute offset.
func (m *MemReader) ReadAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, m.SetError(common.ErrBadFile)
	}
	if off < 0 {
		return 0, m.SetError(common.ErrInvalid)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the cursor.
func (m *MemReader) Seek(pos int64) error {
	if m.closed {
		return m.SetError(common.ErrBadFile)
	}
	if pos < 0 {
		return m.SetError(common.ErrInvalid)
	}
	m.pos = pos
	return nil
}

// Tell returns the cursor position.
func (m *MemReader) Tell() int64 { return m.pos }

// Size returns the length of the data.
func (m *MemReader) Size() int64 { return int64(len(m.data)) }

// IsOpen reports whether Close has not been called.
func (m *MemReader) IsOpen() bool { return !m.closed }

// Close marks the reader closed.
func (m *MemReader) Close() error {
	m.closed = true
	return nil
}

// Filename returns the name given at construction.
func (m *MemReader) Filename() string { return m.name }

// OpenRelated always fails: a memory buffer has no siblings.
func (m *MemReader) OpenRelated(baseName, ext string) (Source, error) {
	return nil, common.WrapErrno(common.ErrNotFound, "%s%s", baseName, ext)
}
