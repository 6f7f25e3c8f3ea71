// Package oss emulates an Open Sound System DSP device on top of a single hardware audio sink.
//
// A Device multiplexes several independent writers onto one Transport. Each opened file gets a
// Stream slot with its own format and fragment geometry; the hardware stream is bound lazily on
// the first write so that clients can configure the stream with ioctls first. Control requests
// follow the legacy OSS ioctl ABI from <sys/soundcard.h> bit for bit.
package oss

// Format is an OSS sample format (AFMT_*).
type Format int32

const (
	AFMT_QUERY  Format = 0x00000000
	AFMT_MU_LAW Format = 0x00000001
	AFMT_A_LAW  Format = 0x00000002
	AFMT_U8     Format = 0x00000008
	AFMT_S16_LE Format = 0x00000010 // USB audio is little endian only.
	AFMT_S16_BE Format = 0x00000020
	AFMT_S8     Format = 0x00000040
)

// FormatNames provides human-readable names for the sample formats.
var FormatNames = map[Format]string{
	AFMT_MU_LAW: "MU_LAW",
	AFMT_A_LAW:  "A_LAW",
	AFMT_U8:     "U8",
	AFMT_S16_LE: "S16_LE",
	AFMT_S16_BE: "S16_BE",
	AFMT_S8:     "S8",
}

// FormatBits returns the sample width in bits for a format, or 0 if it is not PCM.
func FormatBits(f Format) uint32 {
	switch f {
	case AFMT_U8, AFMT_S8:
		return 8
	case AFMT_S16_LE, AFMT_S16_BE:
		return 16
	default:
		return 0
	}
}

// Capability bits returned by SNDCTL_DSP_GETCAPS.
const (
	DSP_CAP_REVISION = 0x000000ff
	DSP_CAP_DUPLEX   = 0x00000100
	DSP_CAP_REALTIME = 0x00000200
	DSP_CAP_BATCH    = 0x00000400
	DSP_CAP_COPROC   = 0x00000800
	DSP_CAP_TRIGGER  = 0x00001000
	DSP_CAP_MMAP     = 0x00002000
	DSP_CAP_MULTI    = 0x00004000
)

// Version is the OSS API version reported by OSS_GETVERSION (3.8.1).
const Version = (3 << 16) | (8 << 8) | (1 << 4) | 0

// Poll events reported to the framework.
const (
	POLLIN  = 0x0001
	POLLOUT = 0x0004
	POLLERR = 0x0008
	POLLHUP = 0x0010
)

// Open flags that matter to the device, as passed by the kernel.
const (
	O_RDONLY   = 0x0
	O_WRONLY   = 0x1
	O_RDWR     = 0x2
	O_ACCMODE  = 0x3
	O_NONBLOCK = 0x800
)

// AudioBufInfo mirrors audio_buf_info, the SNDCTL_DSP_GETOSPACE payload.
type AudioBufInfo struct {
	Fragments  int32 // Number of full fragments that can be written without blocking.
	FragsTotal int32
	FragSize   int32
	Bytes      int32 // Bytes that can be written without blocking.
}

// CountInfo mirrors count_info, the SNDCTL_DSP_GETOPTR payload.
type CountInfo struct {
	Bytes  int32 // Total bytes processed by the hardware.
	Blocks int32 // Fragment transitions since the last call.
	Ptr    int32 // Current position in the buffer.
}

// PackVolume encodes a stereo level as the (right<<8 | left) word used by the play volume ioctls.
func PackVolume(left, right int) int32 {
	return int32((right&0xff)<<8 | left&0xff)
}

// UnpackVolume decodes a (right<<8 | left) volume word.
func UnpackVolume(v int32) (left, right int) {
	return int(v & 0xff), int((v >> 8) & 0xff)
}

// PackFragment encodes a fragment request for SNDCTL_DSP_SETFRAGMENT: the count goes in the
// high 16 bits and log2 of the size in the low 16 bits.
func PackFragment(count, sizeShift uint32) int32 {
	return int32(count<<16 | sizeShift&0xffff)
}

// nextPow2 rounds v up to the next power of two.
func nextPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}

	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16

	return v + 1
}
