package alsa

import (
	"unsafe"

	"github.com/gen2brain/oss/internal/ioc"
)

var ioctl = ioc.Ioctl

var (
	// PCM IOCTLs
	SNDRV_PCM_IOCTL_INFO          uintptr
	SNDRV_PCM_IOCTL_TTSTAMP       uintptr
	SNDRV_PCM_IOCTL_HW_REFINE     uintptr
	SNDRV_PCM_IOCTL_HW_PARAMS     uintptr
	SNDRV_PCM_IOCTL_HW_FREE       uintptr
	SNDRV_PCM_IOCTL_SW_PARAMS     uintptr
	SNDRV_PCM_IOCTL_STATUS        uintptr
	SNDRV_PCM_IOCTL_DELAY         uintptr
	SNDRV_PCM_IOCTL_HWSYNC        uintptr
	SNDRV_PCM_IOCTL_PREPARE       uintptr
	SNDRV_PCM_IOCTL_RESET         uintptr
	SNDRV_PCM_IOCTL_START         uintptr
	SNDRV_PCM_IOCTL_DROP          uintptr
	SNDRV_PCM_IOCTL_DRAIN         uintptr
	SNDRV_PCM_IOCTL_RESUME        uintptr
	SNDRV_PCM_IOCTL_WRITEI_FRAMES uintptr

	// Control IOCTLs
	SNDRV_CTL_IOCTL_CARD_INFO            uintptr
	SNDRV_CTL_IOCTL_ELEM_LIST            uintptr
	SNDRV_CTL_IOCTL_ELEM_INFO            uintptr
	SNDRV_CTL_IOCTL_ELEM_READ            uintptr
	SNDRV_CTL_IOCTL_ELEM_WRITE           uintptr
	SNDRV_CTL_IOCTL_SUBSCRIBE_EVENTS     uintptr
	SNDRV_CTL_IOCTL_TLV_READ             uintptr
	SNDRV_CTL_IOCTL_PCM_INFO             uintptr
	SNDRV_CTL_IOCTL_PCM_PREFER_SUBDEVICE uintptr
)

func init() {
	// PCM IOCTLs ('A' for ALSA)
	SNDRV_PCM_IOCTL_INFO = ioc.IOR('A', 0x01, unsafe.Sizeof(sndPcmInfo{}))
	SNDRV_PCM_IOCTL_TTSTAMP = ioc.IOW('A', 0x03, unsafe.Sizeof(int32(0)))
	SNDRV_PCM_IOCTL_HW_REFINE = ioc.IOWR('A', 0x10, unsafe.Sizeof(sndPcmHwParams{}))
	SNDRV_PCM_IOCTL_HW_PARAMS = ioc.IOWR('A', 0x11, unsafe.Sizeof(sndPcmHwParams{}))
	SNDRV_PCM_IOCTL_HW_FREE = ioc.IO('A', 0x12)
	SNDRV_PCM_IOCTL_SW_PARAMS = ioc.IOWR('A', 0x13, unsafe.Sizeof(sndPcmSwParams{}))

	// Status IOCTLs
	SNDRV_PCM_IOCTL_STATUS = ioc.IOR('A', 0x20, unsafe.Sizeof(sndPcmStatus{}))
	SNDRV_PCM_IOCTL_DELAY = ioc.IOR('A', 0x21, unsafe.Sizeof(SndPcmSframesT(0)))
	SNDRV_PCM_IOCTL_HWSYNC = ioc.IO('A', 0x22)

	// State change IOCTLs
	SNDRV_PCM_IOCTL_PREPARE = ioc.IO('A', 0x40)
	SNDRV_PCM_IOCTL_RESET = ioc.IO('A', 0x41)
	SNDRV_PCM_IOCTL_START = ioc.IO('A', 0x42)
	SNDRV_PCM_IOCTL_DROP = ioc.IO('A', 0x43)
	SNDRV_PCM_IOCTL_DRAIN = ioc.IO('A', 0x44)
	SNDRV_PCM_IOCTL_RESUME = ioc.IO('A', 0x47)

	// Frame transfer
	SNDRV_PCM_IOCTL_WRITEI_FRAMES = ioc.IOW('A', 0x50, unsafe.Sizeof(sndXferi{}))

	// Control IOCTLs ('U' for UAC)
	SNDRV_CTL_IOCTL_CARD_INFO = ioc.IOR('U', 0x01, unsafe.Sizeof(sndCtlCardInfo{}))
	SNDRV_CTL_IOCTL_ELEM_LIST = ioc.IOWR('U', 0x10, unsafe.Sizeof(sndCtlElemList{}))
	SNDRV_CTL_IOCTL_ELEM_INFO = ioc.IOWR('U', 0x11, unsafe.Sizeof(sndCtlElemInfo{}))
	SNDRV_CTL_IOCTL_ELEM_READ = ioc.IOWR('U', 0x12, unsafe.Sizeof(sndCtlElemValue{}))
	SNDRV_CTL_IOCTL_ELEM_WRITE = ioc.IOWR('U', 0x13, unsafe.Sizeof(sndCtlElemValue{}))
	SNDRV_CTL_IOCTL_SUBSCRIBE_EVENTS = ioc.IOWR('U', 0x16, unsafe.Sizeof(int32(0)))
	SNDRV_CTL_IOCTL_TLV_READ = ioc.IOWR('U', 0x1a, unsafe.Sizeof(sndCtlTlv{}))
	SNDRV_CTL_IOCTL_PCM_INFO = ioc.IOWR('U', 0x31, unsafe.Sizeof(sndPcmInfo{}))
	SNDRV_CTL_IOCTL_PCM_PREFER_SUBDEVICE = ioc.IOW('U', 0x32, unsafe.Sizeof(int32(0)))
}
