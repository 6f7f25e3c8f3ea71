// Package alsa implements an oss.Transport on top of the Linux ALSA kernel interface.
//
// It talks to the hardware PCM and control devices under /dev/snd directly, without
// alsa-lib, so only hw:C,D style devices are supported. Every subdevice of the chosen
// playback PCM is one hardware stream; the card's playback volume control provides the
// master volume.
package alsa

import (
	"fmt"
)

// PcmFormat defines the sample format for a PCM stream.
// These values correspond to the SNDRV_PCM_FORMAT_* constants in the ALSA kernel headers.
type PcmFormat int32

const (
	SNDRV_PCM_FORMAT_INVALID PcmFormat = -1
	SNDRV_PCM_FORMAT_S8      PcmFormat = 0
	SNDRV_PCM_FORMAT_U8      PcmFormat = 1
	SNDRV_PCM_FORMAT_S16_LE  PcmFormat = 2
	SNDRV_PCM_FORMAT_S16_BE  PcmFormat = 3
	SNDRV_PCM_FORMAT_S24_LE  PcmFormat = 6
	SNDRV_PCM_FORMAT_S32_LE  PcmFormat = 10
	SNDRV_PCM_FORMAT_S24_3LE PcmFormat = 32
)

// PcmFormatNames provides human-readable names for the formats the transport deals with.
var PcmFormatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S8:      "S8",
	SNDRV_PCM_FORMAT_U8:      "U8",
	SNDRV_PCM_FORMAT_S16_LE:  "S16_LE",
	SNDRV_PCM_FORMAT_S16_BE:  "S16_BE",
	SNDRV_PCM_FORMAT_S24_LE:  "S24_LE",
	SNDRV_PCM_FORMAT_S32_LE:  "S32_LE",
	SNDRV_PCM_FORMAT_S24_3LE: "S24_3LE",
}

func (f PcmFormat) String() string {
	if name, ok := PcmFormatNames[f]; ok {
		return name
	}

	return fmt.Sprintf("FORMAT(%d)", int32(f))
}

// PcmFormatToBits returns the number of bits per sample for a given format.
// This reflects the space occupied in memory, so 24-bit formats in 32-bit containers return 32.
func PcmFormatToBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_S24_LE:
		return 32
	case SNDRV_PCM_FORMAT_S24_3LE:
		return 24
	case SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_S16_BE:
		return 16
	case SNDRV_PCM_FORMAT_S8, SNDRV_PCM_FORMAT_U8:
		return 8
	default:
		return 0
	}
}

// FormatForBits returns the PCM format OSS clients mean by a sample width.
// 8-bit OSS audio is unsigned, wider samples are signed little endian.
func FormatForBits(bits uint32) PcmFormat {
	switch bits {
	case 8:
		return SNDRV_PCM_FORMAT_U8
	case 16:
		return SNDRV_PCM_FORMAT_S16_LE
	case 24:
		return SNDRV_PCM_FORMAT_S24_3LE
	case 32:
		return SNDRV_PCM_FORMAT_S32_LE
	default:
		return SNDRV_PCM_FORMAT_INVALID
	}
}

// PcmState defines the current state of a PCM stream.
// These values correspond to the SNDRV_PCM_STATE_* constants.
type PcmState int32

const (
	SNDRV_PCM_STATE_OPEN         PcmState = 0 // Stream is open.
	SNDRV_PCM_STATE_SETUP        PcmState = 1 // Stream has a setup.
	SNDRV_PCM_STATE_PREPARED     PcmState = 2 // Stream is ready to start.
	SNDRV_PCM_STATE_RUNNING      PcmState = 3 // Stream is running.
	SNDRV_PCM_STATE_XRUN         PcmState = 4 // Stream reached an underrun.
	SNDRV_PCM_STATE_DRAINING     PcmState = 5 // Stream is draining.
	SNDRV_PCM_STATE_PAUSED       PcmState = 6 // Stream is paused.
	SNDRV_PCM_STATE_SUSPENDED    PcmState = 7 // Hardware is suspended.
	SNDRV_PCM_STATE_DISCONNECTED PcmState = 8 // Hardware is disconnected.
)

var pcmStateNames = []string{"OPEN", "SETUP", "PREPARED", "RUNNING", "XRUN", "DRAINING", "PAUSED", "SUSPENDED", "DISCONNECTED"}

func (s PcmState) String() string {
	if s >= 0 && int(s) < len(pcmStateNames) {
		return pcmStateNames[s]
	}

	return fmt.Sprintf("STATE(%d)", int32(s))
}

// PcmFlag defines flags for opening a PCM stream.
type PcmFlag uint32

const (
	// PCM_NONBLOCK specifies that I/O operations should not block.
	PCM_NONBLOCK PcmFlag = 0x00000010
	// PCM_NORESTART specifies that the stream is not prepared again after an underrun.
	PCM_NORESTART PcmFlag = 0x00000002
	// PCM_MONOTONIC requests monotonic timestamps instead of wall clock time.
	PCM_MONOTONIC PcmFlag = 0x00000004
)

// MixerCtlType defines the value type of mixer control.
type MixerCtlType int32

const (
	SNDRV_CTL_ELEM_TYPE_NONE       MixerCtlType = 0
	SNDRV_CTL_ELEM_TYPE_BOOLEAN    MixerCtlType = 1
	SNDRV_CTL_ELEM_TYPE_INTEGER    MixerCtlType = 2
	SNDRV_CTL_ELEM_TYPE_ENUMERATED MixerCtlType = 3
	SNDRV_CTL_ELEM_TYPE_BYTES      MixerCtlType = 4
	SNDRV_CTL_ELEM_TYPE_IEC958     MixerCtlType = 5
	SNDRV_CTL_ELEM_TYPE_INTEGER64  MixerCtlType = 6
	SNDRV_CTL_ELEM_TYPE_UNKNOWN    MixerCtlType = -1
)

var mixerCtlTypeNames = []string{"NONE", "BOOL", "INT", "ENUM", "BYTE", "IEC958", "INT64"}

func (t MixerCtlType) String() string {
	if t >= 0 && int(t) < len(mixerCtlTypeNames) {
		return mixerCtlTypeNames[t]
	}

	return "UNKNOWN"
}

// CtlAccessFlag defines the access permissions for a mixer control.
type CtlAccessFlag uint32

const (
	// If set, the control is readable.
	SNDRV_CTL_ELEM_ACCESS_READ CtlAccessFlag = 1 << 0
	// If set, the control is writable.
	SNDRV_CTL_ELEM_ACCESS_WRITE CtlAccessFlag = 1 << 1
	// If set, the control carries TLV metadata such as a dB scale.
	SNDRV_CTL_ELEM_ACCESS_TLV_READ CtlAccessFlag = 1 << 4
)

// TLV types describing the dB scale of a volume control.
const (
	SNDRV_CTL_TLVT_DB_SCALE       = 1
	SNDRV_CTL_TLVT_DB_LINEAR      = 2
	SNDRV_CTL_TLVT_DB_RANGE       = 3
	SNDRV_CTL_TLVT_DB_MINMAX      = 4
	SNDRV_CTL_TLVT_DB_MINMAX_MUTE = 5

	tlvDBScaleMute = 0x10000
)

// Constants for the bitfields within snd_interval.flags to match C enum.
const (
	SNDRV_PCM_INTERVAL_OPENMIN = 1 << 0
	SNDRV_PCM_INTERVAL_OPENMAX = 1 << 1
	SNDRV_PCM_INTERVAL_INTEGER = 1 << 2
	SNDRV_PCM_INTERVAL_EMPTY   = 1 << 3
)

// PcmAccess defines the type of PCM access.
type PcmAccess int32

const (
	SNDRV_PCM_ACCESS_MMAP_INTERLEAVED PcmAccess = 0
	SNDRV_PCM_ACCESS_RW_INTERLEAVED   PcmAccess = 3
)

// MixerEventType defines the type of event generated by the mixer.
type MixerEventType uint32

const (
	SNDRV_CTL_EVENT_ELEM = 0

	// Indicates that a control element's value has changed.
	SNDRV_CTL_EVENT_MASK_VALUE MixerEventType = 1 << 0
	// Indicates that a control element's metadata (e.g., range) has changed.
	SNDRV_CTL_EVENT_MASK_INFO MixerEventType = 1 << 1
	// Indicates that a control element has been added.
	SNDRV_CTL_EVENT_MASK_ADD MixerEventType = 1 << 2

	// A removed element reports all bits set.
	SNDRV_CTL_EVENT_MASK_REMOVE MixerEventType = ^MixerEventType(0)
)

// MixerEvent represents a notification from the ALSA control interface.
type MixerEvent struct {
	Type      MixerEventType
	ControlID uint32 // The numid of the control that changed.
}

// PcmParam identifies a hardware parameter for a PCM device.
// These values correspond to the SNDRV_PCM_HW_PARAM_* constants.
type PcmParam int

const (
	SNDRV_PCM_HW_PARAM_ACCESS      PcmParam = 0
	SNDRV_PCM_HW_PARAM_FORMAT      PcmParam = 1
	SNDRV_PCM_HW_PARAM_SUBFORMAT   PcmParam = 2
	SNDRV_PCM_HW_PARAM_SAMPLE_BITS PcmParam = 8
	SNDRV_PCM_HW_PARAM_FRAME_BITS  PcmParam = 9
	SNDRV_PCM_HW_PARAM_CHANNELS    PcmParam = 10
	SNDRV_PCM_HW_PARAM_RATE        PcmParam = 11
	SNDRV_PCM_HW_PARAM_PERIOD_TIME PcmParam = 12
	SNDRV_PCM_HW_PARAM_PERIOD_SIZE PcmParam = 13
	SNDRV_PCM_HW_PARAM_PERIODS     PcmParam = 15
	SNDRV_PCM_HW_PARAM_BUFFER_SIZE PcmParam = 17
	SNDRV_PCM_HW_PARAM_TICK_TIME   PcmParam = 19

	firstMaskParam     = SNDRV_PCM_HW_PARAM_ACCESS
	lastMaskParam      = SNDRV_PCM_HW_PARAM_SUBFORMAT
	firstIntervalParam = SNDRV_PCM_HW_PARAM_SAMPLE_BITS
	lastIntervalParam  = SNDRV_PCM_HW_PARAM_TICK_TIME
)

// PcmParamMask represents a bitmask for a PCM hardware parameter.
// It allows checking which specific capabilities (e.g., formats) are supported.
type PcmParamMask struct {
	bits [8]uint32 // Corresponds to sndMask->bits
}

// Test checks if a specific bit in the mask is set.
func (m *PcmParamMask) Test(bit uint) bool {
	if bit >= 256 { // SNDRV_MASK_MAX
		return false
	}

	element := bit >> 5             // bit / 32
	mask := uint32(1 << (bit & 31)) // bit % 32

	return (m.bits[element] & mask) != 0
}
