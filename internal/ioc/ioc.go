// Package ioc builds Linux ioctl request codes and issues raw ioctl syscalls.
package ioc

import (
	"syscall"
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	dirNone  = 0
	dirWrite = 1
	dirRead  = 2
)

// Ioctl performs a generic ioctl syscall.
func Ioctl(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}

	return nil
}

// IOC encodes a request code from its direction, type, number and payload size.
func IOC(dir, typ, nr, size uintptr) uintptr {
	return (dir << dirShift) | (typ << typeShift) | (nr << nrShift) | (size << sizeShift)
}

// IO builds an ioctl request code for a command with no data transfer.
func IO(typ, nr uintptr) uintptr {
	return IOC(dirNone, typ, nr, 0)
}

// IOW builds an ioctl request code for a write-only operation.
func IOW(typ, nr, size uintptr) uintptr {
	return IOC(dirWrite, typ, nr, size)
}

// IOR builds a read-only ioctl request code.
func IOR(typ, nr, size uintptr) uintptr {
	return IOC(dirRead, typ, nr, size)
}

// IOWR builds a read-write ioctl request code.
func IOWR(typ, nr, size uintptr) uintptr {
	return IOC(dirRead|dirWrite, typ, nr, size)
}

// Size extracts the payload size encoded in a request code.
func Size(req uintptr) uintptr {
	return (req >> sizeShift) & (1<<sizeBits - 1)
}

// Dir extracts the direction bits encoded in a request code.
func Dir(req uintptr) uintptr {
	return req >> dirShift
}

// Reads reports whether the request copies data back to the caller.
func Reads(req uintptr) bool {
	return Dir(req)&dirRead != 0
}

// Writes reports whether the request passes data from the caller.
func Writes(req uintptr) bool {
	return Dir(req)&dirWrite != 0
}
