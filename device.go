package oss

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Default device parameters.
const (
	DefaultSampleRate    = 48000
	DefaultFragmentSize  = 16 * 1024
	DefaultFragmentCount = 4
	DefaultMaxStreams    = 8
)

// Config holds the defaults every newly opened stream starts with.
type Config struct {
	SampleRate    uint32
	FragmentSize  uint32 // Rounded up to a power of two.
	FragmentCount uint32 // Rounded up to a power of two.
	MaxStreams    int    // Number of stream slots.

	Logger *zerolog.Logger
}

// Device is the process-wide device context shared by all open files.
type Device struct {
	transport Transport
	config    Config
	log       zerolog.Logger

	// mu serializes slot allocation and volume requests across all streams.
	mu     sync.Mutex
	minVol Volume
	maxVol Volume

	slots    []Stream
	notifier *notifier
}

// NewDevice creates a device on top of transport. The master volume range is queried once here.
func NewDevice(transport Transport, config Config) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is nil")
	}

	if config.SampleRate == 0 {
		config.SampleRate = DefaultSampleRate
	}

	if config.FragmentSize == 0 {
		config.FragmentSize = DefaultFragmentSize
	}

	if config.FragmentCount == 0 {
		config.FragmentCount = DefaultFragmentCount
	}

	if config.MaxStreams <= 0 {
		config.MaxStreams = DefaultMaxStreams
	}

	config.FragmentSize = nextPow2(config.FragmentSize)
	config.FragmentCount = nextPow2(config.FragmentCount)

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	vol, err := transport.Volume(StreamMaster, volumeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to query volume range: %w", err)
	}

	d := &Device{
		transport: transport,
		config:    config,
		log:       log,
		minVol:    vol.Min,
		maxVol:    vol.Max,
		slots:     make([]Stream, config.MaxStreams),
	}

	for i := range d.slots {
		d.slots[i].index = i
		d.slots[i].reset()
	}

	d.notifier = newNotifier(len(d.slots), log)

	log.Info().
		Uint32("rate", config.SampleRate).
		Uint32("fragsize", config.FragmentSize).
		Uint32("frags", config.FragmentCount).
		Int("slots", config.MaxStreams).
		Int("min_volume", int(vol.Min)).
		Int("max_volume", int(vol.Max)).
		Msg("device ready")

	return d, nil
}

// Config returns the defaults of the device after rounding.
func (d *Device) Config() Config {
	return d.config
}

// Close tears down every open stream and releases the transport.
func (d *Device) Close() error {
	d.notifier.close()

	for i := range d.slots {
		s := &d.slots[i]
		if !s.active.Load() {
			continue
		}

		s.mu.Lock()
		d.unbind(s)
		s.dropPollHandle()
		s.mu.Unlock()
	}

	return d.transport.Close()
}

// Open allocates a stream for a new open file and returns its handle.
// Only write-only opens are accepted.
func (d *Device) Open(flags uint32, pid uint32) (uint64, error) {
	if flags&O_ACCMODE != O_WRONLY {
		return 0, ErrAccess
	}

	s, err := d.allocate()
	if err != nil {
		d.log.Warn().Uint32("pid", pid).Msg("no free stream slot")

		return 0, err
	}

	s.sampleRate = d.config.SampleRate
	s.channels = 2
	s.bits = 16
	s.fragSize.Store(d.config.FragmentSize)
	s.frags = d.config.FragmentCount
	s.pid = pid
	s.processName = processName(pid)

	d.log.Debug().Int("slot", s.index).Uint32("pid", pid).Str("process", s.processName).Msg("stream opened")

	return uint64(s.index), nil
}

// Write submits audio data of an open file. nonblock is derived from the open flags of the file.
func (d *Device) Write(fh uint64, p []byte, flags uint32) (int, error) {
	s, err := d.stream(fh)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The file may have been released while waiting for the lock.
	if !s.active.Load() {
		return 0, ErrBadHandle
	}

	return d.write(s, p, flags&O_NONBLOCK != 0)
}

// Ioctl executes a control request of an open file.
func (d *Device) Ioctl(fh uint64, req *IoctlRequest) (*IoctlReply, error) {
	s, err := d.stream(fh)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active.Load() {
		return nil, ErrBadHandle
	}

	return d.ioctl(s, req)
}

// Poll registers ph for a wake-up and reports the current readiness of an open file.
func (d *Device) Poll(fh uint64, ph PollHandle) (uint32, error) {
	s, err := d.stream(fh)
	if err != nil {
		if ph != nil {
			ph.Destroy()
		}

		return 0, err
	}

	return d.poll(s, ph), nil
}

// Release closes an open file and frees its slot.
func (d *Device) Release(fh uint64) error {
	s, err := d.stream(fh)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	if !s.active.Load() {
		s.mu.Unlock()

		return nil
	}

	d.unbind(s)
	s.dropPollHandle()

	d.log.Debug().Int("slot", s.index).Str("process", s.processName).Uint64("written", s.writeCnt).Msg("stream released")

	s.reset()
	d.free(s)
	s.mu.Unlock()

	return nil
}

// stream returns the active stream named by a file handle.
func (d *Device) stream(fh uint64) (*Stream, error) {
	if fh >= uint64(len(d.slots)) {
		return nil, ErrBadHandle
	}

	s := &d.slots[fh]
	if !s.active.Load() {
		return nil, ErrBadHandle
	}

	return s, nil
}
