package oss

import (
	"unsafe"

	"github.com/gen2brain/oss/internal/ioc"
)

var (
	OSS_GETVERSION uint32

	SNDCTL_DSP_RESET       uint32
	SNDCTL_DSP_HALT        uint32
	SNDCTL_DSP_SYNC        uint32
	SNDCTL_DSP_SPEED       uint32
	SNDCTL_DSP_STEREO      uint32
	SNDCTL_DSP_GETBLKSIZE  uint32
	SNDCTL_DSP_SETFMT      uint32
	SNDCTL_DSP_CHANNELS    uint32
	SNDCTL_DSP_POST        uint32
	SNDCTL_DSP_SUBDIVIDE   uint32
	SNDCTL_DSP_SETFRAGMENT uint32
	SNDCTL_DSP_GETFMTS     uint32
	SNDCTL_DSP_GETOSPACE   uint32
	SNDCTL_DSP_GETISPACE   uint32
	SNDCTL_DSP_NONBLOCK    uint32
	SNDCTL_DSP_GETCAPS     uint32
	SNDCTL_DSP_GETTRIGGER  uint32
	SNDCTL_DSP_SETTRIGGER  uint32
	SNDCTL_DSP_GETIPTR     uint32
	SNDCTL_DSP_GETOPTR     uint32
	SNDCTL_DSP_GETODELAY   uint32
	SNDCTL_DSP_GETPLAYVOL  uint32
	SNDCTL_DSP_SETPLAYVOL  uint32
	SNDCTL_DSP_COOKEDMODE  uint32
)

func init() {
	OSS_GETVERSION = uint32(ioc.IOR('M', 118, intSize))

	// 'P' for the DSP device.
	SNDCTL_DSP_RESET = uint32(ioc.IO('P', 0))
	SNDCTL_DSP_HALT = SNDCTL_DSP_RESET
	SNDCTL_DSP_SYNC = uint32(ioc.IO('P', 1))
	SNDCTL_DSP_SPEED = uint32(ioc.IOWR('P', 2, intSize))
	SNDCTL_DSP_STEREO = uint32(ioc.IOWR('P', 3, intSize))
	SNDCTL_DSP_GETBLKSIZE = uint32(ioc.IOWR('P', 4, intSize))
	SNDCTL_DSP_SETFMT = uint32(ioc.IOWR('P', 5, intSize))
	SNDCTL_DSP_CHANNELS = uint32(ioc.IOWR('P', 6, intSize))
	SNDCTL_DSP_POST = uint32(ioc.IO('P', 8))
	SNDCTL_DSP_SUBDIVIDE = uint32(ioc.IOWR('P', 9, intSize))
	SNDCTL_DSP_SETFRAGMENT = uint32(ioc.IOWR('P', 10, intSize))
	SNDCTL_DSP_GETFMTS = uint32(ioc.IOR('P', 11, intSize))
	SNDCTL_DSP_GETOSPACE = uint32(ioc.IOR('P', 12, unsafe.Sizeof(AudioBufInfo{})))
	SNDCTL_DSP_GETISPACE = uint32(ioc.IOR('P', 13, unsafe.Sizeof(AudioBufInfo{})))
	SNDCTL_DSP_NONBLOCK = uint32(ioc.IO('P', 14))
	SNDCTL_DSP_GETCAPS = uint32(ioc.IOR('P', 15, intSize))
	SNDCTL_DSP_GETTRIGGER = uint32(ioc.IOR('P', 16, intSize))
	SNDCTL_DSP_SETTRIGGER = uint32(ioc.IOW('P', 16, intSize))
	SNDCTL_DSP_GETIPTR = uint32(ioc.IOR('P', 17, unsafe.Sizeof(CountInfo{})))
	SNDCTL_DSP_GETOPTR = uint32(ioc.IOR('P', 18, unsafe.Sizeof(CountInfo{})))
	SNDCTL_DSP_GETODELAY = uint32(ioc.IOR('P', 23, intSize))
	SNDCTL_DSP_GETPLAYVOL = uint32(ioc.IOR('P', 24, intSize))
	SNDCTL_DSP_SETPLAYVOL = uint32(ioc.IOWR('P', 24, intSize))
	SNDCTL_DSP_COOKEDMODE = uint32(ioc.IOW('P', 30, intSize))

	// The dispatch table is keyed by the codes above, so it can only be built now.
	registerHandlers()
}

// CmdName returns the symbolic name of a control request, for logging.
func CmdName(cmd uint32) string {
	if h, ok := handlers[cmd]; ok {
		return h.name
	}

	return "UNKNOWN"
}
