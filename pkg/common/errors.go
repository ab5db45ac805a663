package common

import (
	"errors"
	"fmt"
	"syscall"
)

// POSIX-style error codes shared by every reader and partition. They are
// plain syscall.Errno values so errors.Is works against both these names and
// the io/fs sentinels (ENOENT matches fs.ErrNotExist).
var (
	ErrNotFound   error = syscall.ENOENT
	ErrIsDir      error = syscall.EISDIR
	ErrNotDir     error = syscall.ENOTDIR
	ErrIO         error = syscall.EIO
	ErrBadFile    error = syscall.EBADF
	ErrInvalid    error = syscall.EINVAL
	ErrPermission error = syscall.EPERM
	ErrRange      error = syscall.ERANGE
)

// WrapErrno attaches context to one of the errno sentinels.
func WrapErrno(errno error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errno)
}

// Errno extracts the errno carried by err, or EIO if there is none.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
