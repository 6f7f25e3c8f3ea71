package cuse

import (
	"unsafe"
)

// Kernel protocol version spoken by the server.
const (
	kernelVersion      = 7
	kernelMinorVersion = 31

	// The kernel refuses CUSE servers older than this.
	minKernelMinorVersion = 11
)

type opcode uint32

const (
	opForget      opcode = 2
	opOpen        opcode = 14
	opRead        opcode = 15
	opWrite       opcode = 16
	opRelease     opcode = 18
	opFsync       opcode = 20
	opFlush       opcode = 25
	opInterrupt   opcode = 36
	opDestroy     opcode = 38
	opIoctl       opcode = 39
	opPoll        opcode = 40
	opBatchForget opcode = 42
	opCuseInit    opcode = 4096
)

var opcodeNames = map[opcode]string{
	opForget:      "FORGET",
	opOpen:        "OPEN",
	opRead:        "READ",
	opWrite:       "WRITE",
	opRelease:     "RELEASE",
	opFsync:       "FSYNC",
	opFlush:       "FLUSH",
	opInterrupt:   "INTERRUPT",
	opDestroy:     "DESTROY",
	opIoctl:       "IOCTL",
	opPoll:        "POLL",
	opBatchForget: "BATCH_FORGET",
	opCuseInit:    "CUSE_INIT",
}

func (o opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}

	return "UNKNOWN"
}

const (
	cuseUnrestrictedIoctl = 1 << 0

	fopenDirectIO    = 1 << 0
	fopenNonseekable = 1 << 2

	ioctlCompat       = 1 << 0
	ioctlUnrestricted = 1 << 1
	ioctlRetry        = 1 << 2
	ioctlMaxIov       = 256

	pollScheduleNotify = 1 << 0

	notifyPoll = 1
)

type inHeader struct {
	Len         uint32
	Opcode      opcode
	Unique      uint64
	Nodeid      uint64
	UID         uint32
	GID         uint32
	PID         uint32
	TotalExtlen uint16
	Padding     uint16
}

type outHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

type cuseInitIn struct {
	Major  uint32
	Minor  uint32
	Unused uint32
	Flags  uint32
}

type cuseInitOut struct {
	Major    uint32
	Minor    uint32
	Unused   uint32
	Flags    uint32
	MaxRead  uint32
	MaxWrite uint32
	DevMajor uint32
	DevMinor uint32
	Spare    [10]uint32
}

type openIn struct {
	Flags     uint32
	OpenFlags uint32
}

type openOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

type writeIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
}

type writeOut struct {
	Size    uint32
	Padding uint32
}

type releaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

type ioctlIn struct {
	Fh      uint64
	Flags   uint32
	Cmd     uint32
	Arg     uint64
	InSize  uint32
	OutSize uint32
}

type ioctlOut struct {
	Result  int32
	Flags   uint32
	InIovs  uint32
	OutIovs uint32
}

type pollIn struct {
	Fh     uint64
	Kh     uint64
	Flags  uint32
	Events uint32
}

type pollOut struct {
	Revents uint32
	Padding uint32
}

type notifyPollWakeupOut struct {
	Kh uint64
}

var (
	inHeaderSize  = int(unsafe.Sizeof(inHeader{}))
	outHeaderSize = int(unsafe.Sizeof(outHeader{}))
)

// bytesOf returns the in-memory representation of v.
func bytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// decode copies the head of b into a T. Missing trailing bytes are left zero, since older
// kernels send shorter versions of some messages.
func decode[T any](b []byte) (T, []byte) {
	var v T

	n := copy(bytesOf(&v), b)

	return v, b[n:]
}
