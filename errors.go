package oss

import (
	"errors"
	"fmt"
	"syscall"
)

// Errors reported to clients. Each wraps the errno the client observes.
var (
	// ErrAccess is returned when the device is opened for anything but writing.
	ErrAccess = fmt.Errorf("device is write-only: %w", syscall.EACCES)

	// ErrBusy is returned when no stream slot or hardware stream is available.
	ErrBusy = fmt.Errorf("device busy: %w", syscall.EBUSY)

	// ErrInvalid is returned for bad fragment geometry, unknown requests and
	// geometry changes after the hardware stream is bound.
	ErrInvalid = fmt.Errorf("invalid argument: %w", syscall.EINVAL)

	// ErrAgain is returned by a non-blocking write when there is no buffer space.
	ErrAgain = fmt.Errorf("no buffer space: %w", syscall.EAGAIN)

	// ErrBrokenPipe is returned by every write after the stream failed.
	ErrBrokenPipe = fmt.Errorf("stream failed: %w", syscall.EPIPE)

	// ErrIO is returned when the hardware accepted nothing or a volume request failed.
	ErrIO = fmt.Errorf("input/output error: %w", syscall.EIO)

	// ErrNoMemory is returned when the stream descriptors cannot be queried.
	ErrNoMemory = fmt.Errorf("stream descriptor unavailable: %w", syscall.ENOMEM)

	// ErrBadHandle is returned for a file handle that does not name an active slot.
	ErrBadHandle = fmt.Errorf("bad file handle: %w", syscall.EBADF)
)

// Errno returns the errno a client should observe for err.
// Errors that do not carry an errno are reported as EIO.
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
