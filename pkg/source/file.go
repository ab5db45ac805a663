// Package source provides the bottom layer of the disc stack: random access
// sources backed by a filesystem or a memory-mapped file.
package source

import (
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/hansbonini/romdisc/pkg/common"
	"github.com/hansbonini/romdisc/pkg/disc"
	"github.com/spf13/afero"
)

// sharedFile is an open file with a reference count. The file is closed
// when the last handle referencing it is closed.
type sharedFile struct {
	f    afero.File
	size int64
	refs atomic.Int32
}

func (s *sharedFile) unref() error {
	if s.refs.Add(-1) == 0 {
		return s.f.Close()
	}
	return nil
}

// File is a seekable handle on a file in an afero filesystem. Each handle
// has its own cursor; Dup shares the underlying descriptor.
type File struct {
	disc.ErrorState
	fs     afero.Fs
	shared *sharedFile
	name   string
	pos    int64
}

var _ disc.Source = (*File)(nil)

// Open opens name on the host filesystem.
func Open(name string) (*File, error) {
	return OpenFs(afero.NewOsFs(), name)
}

// OpenFs opens name in fs.
func OpenFs(fs afero.Fs, name string) (*File, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToOpenSource, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.FormatError(common.ErrFailedToStatSource, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, common.WrapErrno(common.ErrIsDir, "%s %s", common.ErrFailedToOpenSource, name)
	}

	shared := &sharedFile{f: f, size: info.Size()}
	shared.refs.Store(1)
	return &File{fs: fs, shared: shared, name: name}, nil
}

// Dup returns a new handle on the same open file with its own cursor.
func (f *File) Dup() *File {
	if f.shared == nil {
		return &File{fs: f.fs, name: f.name}
	}
	f.shared.refs.Add(1)
	return &File{fs: f.fs, shared: f.shared, name: f.name}
}

// Read reads from the current position.
func (f *File) Read(p []byte) (int, error) {
	if f.shared == nil {
		return 0, f.SetError(common.ErrBadFile)
	}
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads at an absolute offset without moving the cursor.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.shared == nil {
		return 0, f.SetError(common.ErrBadFile)
	}
	if off >= f.shared.size {
		return 0, io.EOF
	}
	n, err := f.shared.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, f.SetError(common.WrapErrno(common.ErrIO, "read %s at 0x%X: %v", f.name, off, err))
	}
	return n, err
}

// Seek sets the cursor. Seeking past the end is allowed.
func (f *File) Seek(pos int64) error {
	if f.shared == nil {
		return f.SetError(common.ErrBadFile)
	}
	if pos < 0 {
		return f.SetError(common.WrapErrno(common.ErrInvalid, "negative seek %d", pos))
	}
	f.pos = pos
	return nil
}

// Tell returns the cursor position.
func (f *File) Tell() int64 { return f.pos }

// Size returns the file size.
func (f *File) Size() int64 {
	if f.shared == nil {
		return -1
	}
	return f.shared.size
}

// IsOpen reports whether the handle is open.
func (f *File) IsOpen() bool { return f.shared != nil }

// Filename returns the path the file was opened with.
func (f *File) Filename() string { return f.name }

// Close releases this handle.
func (f *File) Close() error {
	if f.shared == nil {
		return nil
	}
	err := f.shared.unref()
	f.shared = nil
	return err
}

// OpenRelated opens a file next to this one. The base name is tried as
// given, then with its first letter uppercased, then fully uppercased, to
// cope with case-sensitive filesystems.
func (f *File) OpenRelated(baseName, ext string) (disc.Source, error) {
	rel, err := openRelated(f.fs, f.name, baseName, ext)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func openRelated(fs afero.Fs, name, baseName, ext string) (*File, error) {
	if name == "" {
		return nil, common.WrapErrno(common.ErrInvalid, "no filename to resolve %s%s against", baseName, ext)
	}
	dir := filepath.Dir(name)

	var lastErr error
	for _, candidate := range relatedNames(baseName, ext) {
		rel, err := OpenFs(fs, filepath.Join(dir, candidate))
		if err == nil {
			return rel, nil
		}
		lastErr = err
	}
	return nil, common.WrapErrno(common.ErrNotFound, "%s%s: %v", baseName, ext, lastErr)
}

// relatedNames lists the case permutations tried by OpenRelated.
func relatedNames(baseName, ext string) []string {
	names := []string{baseName + ext}
	if baseName == "" {
		return names
	}

	first := strings.ToUpper(baseName[:1]) + baseName[1:]
	if first != baseName {
		names = append(names, first+ext)
	}
	upper := strings.ToUpper(baseName) + strings.ToUpper(ext)
	if upper != names[len(names)-1] && upper != baseName+ext {
		names = append(names, upper)
	}
	return names
}
