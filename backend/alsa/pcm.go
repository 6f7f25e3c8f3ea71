package alsa

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Config encapsulates the hardware and software parameters of a playback stream.
type Config struct {
	Channels       uint32
	Rate           uint32
	PeriodSize     uint32 // In frames.
	PeriodCount    uint32
	Format         PcmFormat
	StartThreshold uint32
	StopThreshold  uint32
	AvailMin       uint32
}

// PCM represents an open ALSA playback PCM handle.
type PCM struct {
	file       *os.File
	config     Config
	flags      PcmFlag
	bufferSize uint32 // In frames
	card       uint
	device     uint
	subdevice  uint32
	boundary   SndPcmUframesT
	xruns      int
}

// PcmOpenByName opens a PCM by its name, in the format "hw:C,D".
func PcmOpenByName(name string, flags PcmFlag, config *Config) (*PCM, error) {
	card, device, err := ParseName(name)
	if err != nil {
		return nil, err
	}

	return PcmOpen(card, device, flags, config)
}

// ParseName splits a "hw:C,D" device name into its card and device numbers.
func ParseName(name string) (card, device uint, err error) {
	if !strings.HasPrefix(name, "hw:") {
		return 0, 0, fmt.Errorf("invalid PCM name format: missing 'hw:' prefix")
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid PCM name format: expected 'hw:card,device'")
	}

	c, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid card number '%s': %w", parts[0], err)
	}

	d, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid device number '%s': %w", parts[1], err)
	}

	return uint(c), uint(d), nil
}

func pcmPath(card, device uint) string {
	return fmt.Sprintf("/dev/snd/pcmC%dD%dp", card, device)
}

// PcmOpen opens the playback side of an ALSA PCM device and configures it.
// The kernel picks the subdevice, honoring a preference set with Mixer.PreferSubdevice.
func PcmOpen(card, device uint, flags PcmFlag, config *Config) (*PCM, error) {
	path := pcmPath(card, device)

	// Always open non-blocking so that a busy device does not stall us,
	// then clear the flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if (flags & PCM_NONBLOCK) == 0 {
		currentFlags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}

		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, currentFlags&^syscall.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	pcm := &PCM{
		file:      file,
		flags:     flags,
		card:      card,
		device:    device,
		subdevice: info.Subdevice,
	}

	if err := pcm.SetConfig(config); err != nil {
		_ = pcm.Close()

		return nil, fmt.Errorf("failed to set PCM config: %w", err)
	}

	if (flags & PCM_MONOTONIC) != 0 {
		// SNDRV_PCM_TSTAMP_TYPE_MONOTONIC = 1
		var arg int32 = 1
		if err := ioctl(pcm.file.Fd(), SNDRV_PCM_IOCTL_TTSTAMP, uintptr(unsafe.Pointer(&arg))); err != nil {
			_ = pcm.Close()

			return nil, fmt.Errorf("ioctl TTSTAMP failed: %w", err)
		}
	}

	return pcm, nil
}

// IsReady checks if the PCM handle is valid.
func (p *PCM) IsReady() bool {
	return p != nil && p.file != nil
}

// Close closes the PCM device handle.
func (p *PCM) Close() error {
	if !p.IsReady() {
		return nil
	}

	err := p.file.Close()
	p.bufferSize = 0
	p.file = nil

	return err
}

// Config returns a copy of the PCM's current configuration.
func (p *PCM) Config() Config {
	return p.config
}

// BufferSize returns the PCM's total buffer size in frames.
func (p *PCM) BufferSize() uint32 {
	return p.bufferSize
}

// Subdevice returns the subdevice the kernel assigned to this handle.
func (p *PCM) Subdevice() uint32 {
	return p.subdevice
}

// Xruns returns the number of underruns that have occurred.
func (p *PCM) Xruns() int {
	return p.xruns
}

// Fd returns the underlying file descriptor for the PCM device.
func (p *PCM) Fd() uintptr {
	if !p.IsReady() {
		return ^uintptr(0) // Invalid FD
	}

	return p.file.Fd()
}

// FrameSize returns the size of a single frame in bytes.
func (p *PCM) FrameSize() uint32 {
	return p.config.Channels * (PcmFormatToBits(p.config.Format) / 8)
}

// PeriodTime returns the duration of a single period.
func (p *PCM) PeriodTime() time.Duration {
	return p.FramesToDuration(p.config.PeriodSize)
}

// FramesToDuration returns how long the given number of frames takes to play.
func (p *PCM) FramesToDuration(frames uint32) time.Duration {
	if p.config.Rate == 0 {
		return 0
	}

	return time.Duration(uint64(frames) * uint64(time.Second) / uint64(p.config.Rate))
}

// SetConfig sets the hardware and software parameters for the PCM device.
// It must be called before the stream is started.
func (p *PCM) SetConfig(config *Config) error {
	if config == nil {
		config = &Config{
			Channels:    2,
			Rate:        48000,
			PeriodSize:  1024,
			PeriodCount: 4,
			Format:      SNDRV_PCM_FORMAT_S16_LE,
		}
	}

	p.config = *config

	if PcmFormatToBits(config.Format) == 0 {
		return fmt.Errorf("unsupported format %s", config.Format)
	}

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, uint32(SNDRV_PCM_ACCESS_RW_INTERLEAVED))
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetMin(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)

	if config.PeriodCount > 0 {
		paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	// Update our config with the refined parameters from the driver.
	p.config.PeriodSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	p.config.PeriodCount = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS)
	p.config.Channels = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS)
	p.config.Rate = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE)
	p.bufferSize = p.config.PeriodSize * p.config.PeriodCount

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	swParams := &sndPcmSwParams{}
	swParams.TstampMode = 1 // SNDRV_PCM_TSTAMP_ENABLE
	swParams.PeriodStep = 1

	if p.config.AvailMin == 0 {
		p.config.AvailMin = p.config.PeriodSize
	}

	// Playback starts as soon as one period is queued.
	if p.config.StartThreshold == 0 {
		p.config.StartThreshold = p.config.PeriodSize
	}

	if p.config.StopThreshold == 0 {
		p.config.StopThreshold = p.bufferSize
	}

	swParams.AvailMin = SndPcmUframesT(p.config.AvailMin)
	swParams.StartThreshold = SndPcmUframesT(p.config.StartThreshold)
	swParams.StopThreshold = SndPcmUframesT(p.config.StopThreshold)
	swParams.XferAlign = SndPcmUframesT(p.config.PeriodSize / 2) // Needed for old kernels

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(swParams))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}

	p.boundary = swParams.Boundary

	return nil
}

// Prepare readies the PCM device for I/O operations.
// This is also how a stream recovers from an underrun.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return nil
}

// Start explicitly starts the PCM stream.
func (p *PCM) Start() error {
	switch p.State() {
	case SNDRV_PCM_STATE_RUNNING:
		return nil
	case SNDRV_PCM_STATE_SETUP, SNDRV_PCM_STATE_XRUN:
		if err := p.Prepare(); err != nil {
			return err
		}
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_START, 0); err != nil {
		return fmt.Errorf("ioctl START failed: %w", err)
	}

	return nil
}

// Stop abruptly stops the PCM stream, dropping any pending frames.
// A writer blocked on the stream returns.
func (p *PCM) Stop() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Drain waits for all pending frames in the buffer to be played.
func (p *PCM) Drain() error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DRAIN, 0); err != nil {
		return fmt.Errorf("ioctl DRAIN failed: %w", err)
	}

	return nil
}

// Delay returns the current delay for the PCM stream in frames.
func (p *PCM) Delay() (int, error) {
	if !p.IsReady() {
		return 0, fmt.Errorf("PCM handle is not valid")
	}

	var delay SndPcmSframesT
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DELAY, uintptr(unsafe.Pointer(&delay))); err != nil {
		return 0, fmt.Errorf("ioctl DELAY failed: %w", err)
	}

	return int(delay), nil
}

// Status is a snapshot of the runtime state of a stream.
type Status struct {
	State PcmState
	Avail uint32 // Frames that can be written without blocking.
	Delay int    // Frames until a frame written now is played.
}

// Status queries the runtime state of the stream. The kernel updates the hardware pointer first.
func (p *PCM) Status() (Status, error) {
	if !p.IsReady() {
		return Status{}, fmt.Errorf("PCM handle is not valid")
	}

	var status sndPcmStatus
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_STATUS, uintptr(unsafe.Pointer(&status))); err != nil {
		return Status{}, fmt.Errorf("ioctl STATUS failed: %w", err)
	}

	st := Status{
		State: status.State,
		Avail: uint32(min(status.Avail, SndPcmUframesT(p.bufferSize))),
		Delay: int(status.Delay),
	}

	// Before the stream starts the whole buffer is free.
	if st.State == SNDRV_PCM_STATE_SETUP || st.State == SNDRV_PCM_STATE_XRUN {
		st.Avail = p.bufferSize
	}

	return st, nil
}

// State returns the current state of the PCM stream.
func (p *PCM) State() PcmState {
	st, err := p.Status()
	if err != nil {
		return SNDRV_PCM_STATE_DISCONNECTED
	}

	return st.State
}

// Wait waits for the PCM to become writable or until a timeout occurs.
// Returns true if the device is ready, false on timeout.
func (p *PCM) Wait(timeoutMs int) (bool, error) {
	if !p.IsReady() {
		return false, fmt.Errorf("PCM handle not ready")
	}

	pfd := []unix.PollFd{
		{
			Fd:     int32(p.file.Fd()),
			Events: unix.POLLOUT | unix.POLLERR | unix.POLLNVAL,
		},
	}

	var n int
	var err error

	for {
		n, err = unix.Poll(pfd, timeoutMs)
		if !errors.Is(err, syscall.EINTR) {
			break
		}
	}

	if err != nil {
		return false, err
	}

	if n == 0 {
		return false, nil
	}

	if (pfd[0].Revents & (unix.POLLERR | unix.POLLNVAL)) != 0 {
		switch p.State() {
		case SNDRV_PCM_STATE_XRUN:
			return false, fmt.Errorf("stream xrun: %w", syscall.EPIPE)
		case SNDRV_PCM_STATE_SUSPENDED:
			return false, fmt.Errorf("stream suspended: %w", syscall.ESTRPIPE)
		case SNDRV_PCM_STATE_DISCONNECTED:
			return false, fmt.Errorf("device disconnected: %w", syscall.ENODEV)
		default:
			return false, fmt.Errorf("input/output error: %w", syscall.EIO)
		}
	}

	return true, nil
}

// xrunRecover prepares the stream again after an underrun or a system suspend.
func (p *PCM) xrunRecover(err error) error {
	isEPIPE := errors.Is(err, syscall.EPIPE)
	isESTRPIPE := errors.Is(err, syscall.ESTRPIPE)

	if !isEPIPE && !isESTRPIPE {
		return err
	}

	if isEPIPE {
		p.xruns++
	}

	if (p.flags & PCM_NORESTART) != 0 {
		return fmt.Errorf("xrun with PCM_NORESTART: %w", err)
	}

	if isESTRPIPE {
		// Wait for the hardware to come back from suspend; drivers that cannot resume need a prepare.
		for {
			rerr := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_RESUME, 0)
			if !errors.Is(rerr, syscall.EAGAIN) {
				break
			}

			time.Sleep(10 * time.Millisecond)
		}
	}

	if prepErr := p.Prepare(); prepErr != nil {
		return fmt.Errorf("recovery failed: could not prepare stream: %w", prepErr)
	}

	return nil
}

// PcmFramesToBytes converts a number of frames to the corresponding number of bytes.
func PcmFramesToBytes(p *PCM, frames uint32) uint32 {
	if p == nil {
		return 0
	}

	return frames * p.FrameSize()
}

// PcmBytesToFrames converts a number of bytes to the corresponding number of frames.
func PcmBytesToFrames(p *PCM, bytes uint32) uint32 {
	if p == nil {
		return 0
	}

	frameSize := p.FrameSize()
	if frameSize == 0 {
		return 0
	}

	return bytes / frameSize
}
