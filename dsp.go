//go:build linux

package oss

import (
	"fmt"
	"os"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gen2brain/oss/internal/ioc"
)

// DefaultPath is the device node created by the daemon.
const DefaultPath = "/dev/maru"

// DSP is a client handle on an OSS DSP device node.
type DSP struct {
	file *os.File
	path string
}

// OpenDSP opens a DSP device node for playback.
func OpenDSP(path string, nonblock bool) (*DSP, error) {
	flags := os.O_WRONLY
	if nonblock {
		flags |= syscall.O_NONBLOCK
	}

	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open DSP device %s: %w", path, err)
	}

	return &DSP{file: file, path: path}, nil
}

// Close closes the device.
func (p *DSP) Close() error {
	if p.file == nil {
		return nil
	}

	err := p.file.Close()
	p.file = nil

	return err
}

// Path returns the device node path.
func (p *DSP) Path() string {
	return p.path
}

// Write writes interleaved samples.
func (p *DSP) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

func (p *DSP) ioctl(cmd uint32, arg unsafe.Pointer) error {
	if err := ioc.Ioctl(p.file.Fd(), uintptr(cmd), uintptr(arg)); err != nil {
		return fmt.Errorf("ioctl %s failed: %w", CmdName(cmd), err)
	}

	return nil
}

func (p *DSP) ioctlInt(cmd uint32, v int32) (int32, error) {
	err := p.ioctl(cmd, unsafe.Pointer(&v))

	return v, err
}

// Version returns the OSS API version.
func (p *DSP) Version() (int32, error) {
	return p.ioctlInt(OSS_GETVERSION, 0)
}

// Caps returns the DSP_CAP_* capability bits.
func (p *DSP) Caps() (int32, error) {
	return p.ioctlInt(SNDCTL_DSP_GETCAPS, 0)
}

// SetFormat requests a sample format and returns the one in effect.
func (p *DSP) SetFormat(f Format) (Format, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_SETFMT, int32(f))

	return Format(v), err
}

// Formats returns the supported formats mask.
func (p *DSP) Formats() (Format, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_GETFMTS, 0)

	return Format(v), err
}

// SetChannels requests a channel count and returns the one in effect.
func (p *DSP) SetChannels(n int) (int, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_CHANNELS, int32(n))

	return int(v), err
}

// SetSpeed requests a sample rate and returns the one in effect.
func (p *DSP) SetSpeed(rate int) (int, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_SPEED, int32(rate))

	return int(v), err
}

// SetFragment requests count fragments of 1<<sizeShift bytes. It must be called before the first write.
func (p *DSP) SetFragment(count, sizeShift uint32) error {
	_, err := p.ioctlInt(SNDCTL_DSP_SETFRAGMENT, PackFragment(count, sizeShift))

	return err
}

// BlockSize returns the fragment size in bytes.
func (p *DSP) BlockSize() (int, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_GETBLKSIZE, 0)

	return int(v), err
}

// OSpace returns the free space of the output buffer.
func (p *DSP) OSpace() (AudioBufInfo, error) {
	var info AudioBufInfo
	err := p.ioctl(SNDCTL_DSP_GETOSPACE, unsafe.Pointer(&info))

	return info, err
}

// OPtr returns the playback position.
func (p *DSP) OPtr() (CountInfo, error) {
	var info CountInfo
	err := p.ioctl(SNDCTL_DSP_GETOPTR, unsafe.Pointer(&info))

	return info, err
}

// ODelay returns the number of bytes queued but not yet played.
func (p *DSP) ODelay() (int, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_GETODELAY, 0)

	return int(v), err
}

// PlayVolume returns the left and right play volume in percent.
func (p *DSP) PlayVolume() (int, int, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_GETPLAYVOL, 0)
	left, right := UnpackVolume(v)

	return left, right, err
}

// SetPlayVolume sets the play volume in percent and returns the levels in effect.
func (p *DSP) SetPlayVolume(left, right int) (int, int, error) {
	v, err := p.ioctlInt(SNDCTL_DSP_SETPLAYVOL, PackVolume(left, right))
	l, r := UnpackVolume(v)

	return l, r, err
}

// Nonblock switches the handle to non-blocking writes for good.
func (p *DSP) Nonblock() error {
	return p.ioctl(SNDCTL_DSP_NONBLOCK, nil)
}

// Sync waits until queued data has been played.
func (p *DSP) Sync() error {
	return p.ioctl(SNDCTL_DSP_SYNC, nil)
}

// Reset drops queued data and releases the hardware stream.
func (p *DSP) Reset() error {
	return p.ioctl(SNDCTL_DSP_RESET, nil)
}

// Post flushes a partial fragment.
func (p *DSP) Post() error {
	return p.ioctl(SNDCTL_DSP_POST, nil)
}

// Wait waits until at least one fragment can be written. It returns false on timeout.
func (p *DSP) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(p.file.Fd()), Events: unix.POLLOUT}}

	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return false, fmt.Errorf("poll failed: %w", err)
		}

		if n == 0 {
			return false, nil
		}

		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return false, fmt.Errorf("device %s failed: %w", p.path, syscall.EPIPE)
		}

		return fds[0].Revents&unix.POLLOUT != 0, nil
	}
}
