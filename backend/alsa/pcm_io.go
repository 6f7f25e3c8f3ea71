package alsa

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"unsafe"
)

// Write writes interleaved audio data to the PCM and returns the number of bytes written.
// Trailing bytes that do not form a whole frame are not written.
// On a blocking stream it returns once all frames are queued; underruns are recovered by
// preparing the stream again unless PCM_NORESTART is set.
func (p *PCM) Write(data []byte) (int, error) {
	if !p.IsReady() {
		return 0, fmt.Errorf("PCM handle is not valid")
	}

	frameSize := p.FrameSize()
	if frameSize == 0 {
		return 0, fmt.Errorf("invalid frame size")
	}

	frames := uint32(len(data)) / frameSize
	if frames == 0 {
		return 0, nil
	}

	defer runtime.KeepAlive(data)

	if p.State() == SNDRV_PCM_STATE_SETUP {
		if err := p.Prepare(); err != nil {
			return 0, err
		}
	}

	base := uintptr(unsafe.Pointer(&data[0]))

	written := uint32(0)
	for written < frames {
		xfer := sndXferi{
			Frames: SndPcmUframesT(frames - written),
			Buf:    base + uintptr(written*frameSize),
		}

		err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_WRITEI_FRAMES, uintptr(unsafe.Pointer(&xfer)))

		if err == nil && xfer.Result > 0 {
			written += uint32(xfer.Result)
		}

		if err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ESTRPIPE) {
				if errRec := p.xrunRecover(err); errRec != nil {
					return int(written * frameSize), errRec
				}

				continue
			}

			if errors.Is(err, syscall.EINTR) {
				continue
			}

			// For non-blocking mode, EAGAIN means the buffer is full.
			if (p.flags&PCM_NONBLOCK) != 0 && errors.Is(err, syscall.EAGAIN) {
				return int(written * frameSize), syscall.EAGAIN
			}

			return int(written * frameSize), fmt.Errorf("ioctl WRITEI_FRAMES failed: %w", err)
		}
	}

	return int(written * frameSize), nil
}
