// Package disc provides the layered reader abstractions used to walk disc
// images: byte-range views, raw CD-ROM sector translation, sparse block
// remapping and partition file views.
package disc

import (
	"io"

	"github.com/hansbonini/romdisc/pkg/common"
)

// Reader is a seekable, read-only view over a logical address space.
// Every layer of the stack implements it, from the raw file up to a file
// inside a partition.
//
// Read follows io.Reader: it returns io.EOF only when no bytes remain, and a
// short count with a nil error at the end of the disc. Failures are also kept
// as a sticky error until ClearError is called.
type Reader interface {
	io.Reader
	Seek(pos int64) error
	Tell() int64
	Size() int64
	IsOpen() bool
	LastError() error
	ClearError()
	Close() error
}

// Source is the bottom of the stack: a seekable local file or block device.
type Source interface {
	Reader
	io.ReaderAt
	// Filename returns the path the source was opened from, or "".
	Filename() string
	// OpenRelated opens a sibling file with the given base name and extension.
	OpenRelated(baseName, ext string) (Source, error)
}

// SeekAndRead seeks r to pos and fills p from there.
func SeekAndRead(r Reader, pos int64, p []byte) (int, error) {
	if err := r.Seek(pos); err != nil {
		return 0, err
	}
	return io.ReadFull(r, p)
}

// readerAt adapts a Reader to io.ReaderAt by seeking before every read.
type readerAt struct {
	r Reader
}

// ReaderAt exposes r as an io.ReaderAt. The cursor of r is moved by each call.
func ReaderAt(r Reader) io.ReaderAt {
	if ra, ok := r.(io.ReaderAt); ok {
		return ra
	}
	return &readerAt{r: r}
}

func (a *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, common.ErrInvalid
	}
	if err := a.r.Seek(off); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(a.r, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// ErrorState holds the sticky error shared by reader implementations.
type ErrorState struct {
	lastErr error
}

// LastError returns the last recorded error.
func (e *ErrorState) LastError() error { return e.lastErr }

// ClearError resets the sticky error.
func (e *ErrorState) ClearError() { e.lastErr = nil }

// SetError records err if it is non-nil and returns it unchanged.
func (e *ErrorState) SetError(err error) error {
	if err != nil {
		e.lastErr = err
	}
	return err
}
