// Package softvol applies a volume level to interleaved little-endian PCM samples in software,
// for outputs whose hardware has no per-stream gain.
package softvol

import (
	"encoding/binary"
	"math"

	"github.com/gen2brain/oss"
)

// Gain returns the linear amplitude factor of a level in 1/256 dB. Levels above 0 dB are
// not amplified and VolumeMute silences.
func Gain(vol oss.Volume) float64 {
	switch {
	case vol <= oss.VolumeMute:
		return 0
	case vol >= 0:
		return 1
	default:
		return math.Pow(10, float64(vol)/256/20)
	}
}

// Apply writes src scaled by gain to dst and returns the written part of dst, which is grown
// as needed. Samples are unsigned for 8 bits and signed little endian otherwise; a trailing
// partial sample is copied unchanged.
func Apply(dst, src []byte, bits uint32, gain float64) []byte {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	}

	dst = dst[:len(src)]

	if gain >= 1 {
		copy(dst, src)

		return dst
	}

	width := int(bits / 8)
	if width == 0 {
		copy(dst, src)

		return dst
	}

	n := len(src) / width * width
	copy(dst[n:], src[n:])

	for i := 0; i < n; i += width {
		switch width {
		case 1:
			dst[i] = uint8(scale(int64(src[i])-128, gain) + 128)
		case 2:
			v := int16(binary.LittleEndian.Uint16(src[i:]))
			binary.LittleEndian.PutUint16(dst[i:], uint16(int16(scale(int64(v), gain))))
		case 3:
			v := int32(uint32(src[i]) | uint32(src[i+1])<<8 | uint32(src[i+2])<<16)
			v = v << 8 >> 8 // Sign extend.
			s := int32(scale(int64(v), gain))
			dst[i], dst[i+1], dst[i+2] = byte(s), byte(s>>8), byte(s>>16)
		case 4:
			v := int32(binary.LittleEndian.Uint32(src[i:]))
			binary.LittleEndian.PutUint32(dst[i:], uint32(int32(scale(int64(v), gain))))
		default:
			copy(dst[i:i+width], src[i:i+width])
		}
	}

	return dst
}

func scale(v int64, gain float64) int64 {
	return int64(math.Round(float64(v) * gain))
}
