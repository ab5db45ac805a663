package disc

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
)

// DiscReader is an identity view over the byte range [offset, offset+length)
// of another Reader. It owns the underlying reader and closes it on Close.
type DiscReader struct {
	ErrorState
	r      Reader
	offset int64
	length int64
	pos    int64
}

// NewDiscReader wraps the whole of r.
func NewDiscReader(r Reader) (*DiscReader, error) {
	return NewDiscReaderRange(r, 0, -1)
}

// NewDiscReaderRange wraps a byte range of r. A negative length extends the
// range to the end of r.
func NewDiscReaderRange(r Reader, offset, length int64) (*DiscReader, error) {
	d := &DiscReader{r: r, offset: offset}
	if r == nil || !r.IsOpen() {
		d.r = nil
		return d, d.SetError(common.ErrBadFile)
	}

	size := r.Size()
	if offset < 0 || offset > size {
		d.r = nil
		return d, d.SetError(common.WrapErrno(common.ErrInvalid, "offset %d outside source of %d bytes", offset, size))
	}
	if length < 0 || offset+length > size {
		length = size - offset
	}
	d.length = length
	return d, nil
}

// Read reads from the current position within the range.
func (d *DiscReader) Read(p []byte) (int, error) {
	if d.r == nil {
		return 0, d.SetError(common.ErrBadFile)
	}
	if d.pos >= d.length {
		return 0, io.EOF
	}
	if remain := d.length - d.pos; int64(len(p)) > remain {
		p = p[:remain]
	}

	if err := d.r.Seek(d.offset + d.pos); err != nil {
		return 0, d.SetError(err)
	}
	n, err := io.ReadFull(d.r, p)
	d.pos += int64(n)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = common.WrapErrno(common.ErrIO, "short read at 0x%X", d.offset+d.pos)
		}
		return n, d.SetError(err)
	}
	return n, nil
}

// Seek sets the position, clamping it to [0, Size()].
func (d *DiscReader) Seek(pos int64) error {
	if d.r == nil {
		return d.SetError(common.ErrBadFile)
	}
	d.pos = clamp(pos, d.length)
	return nil
}

// Tell returns the current position.
func (d *DiscReader) Tell() int64 { return d.pos }

// Size returns the length of the range.
func (d *DiscReader) Size() int64 { return d.length }

// IsOpen reports whether the underlying reader is usable.
func (d *DiscReader) IsOpen() bool { return d.r != nil && d.r.IsOpen() }

// Close releases the underlying reader.
func (d *DiscReader) Close() error {
	if d.r == nil {
		return nil
	}
	err := d.r.Close()
	d.r = nil
	return err
}

func clamp(pos, size int64) int64 {
	if pos < 0 {
		return 0
	}
	if pos > size {
		return size
	}
	return pos
}
