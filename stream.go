package oss

import (
	"sync"
	"sync/atomic"
)

// Stream is the per-open-file state kept in a device slot.
//
// A stream starts unbound: no hardware stream is open and the format and fragment geometry may
// be changed freely. The first write binds it to a hardware stream; a reset unbinds it again.
// Once the hardware stops accepting data the stream is marked failed and all further writes
// are refused.
type Stream struct {
	index int

	// active is set while the slot is owned by an open file. Writes are done under Device.mu.
	active atomic.Bool

	// mu serializes write, ioctl and release on the open file.
	mu sync.Mutex

	// Read without mu by poll.
	id       atomic.Int64
	failed   atomic.Bool
	fragSize atomic.Uint32

	frags      uint32
	sampleRate uint32
	channels   uint32
	bits       uint32

	nonblock bool
	writeCnt uint64
	volume   int

	pid         uint32
	processName string

	// pollMu guards ph and is never held while mu is acquired.
	pollMu  sync.Mutex
	ph      PollHandle
	pending atomic.Bool
}

// Index returns the slot index, which doubles as the file handle.
func (s *Stream) Index() int {
	return s.index
}

// reset returns the slot to the state of a free slot.
func (s *Stream) reset() {
	s.id.Store(int64(StreamMaster))
	s.failed.Store(false)
	s.fragSize.Store(0)
	s.frags = 0
	s.sampleRate = 0
	s.channels = 0
	s.bits = 0
	s.nonblock = false
	s.writeCnt = 0
	s.volume = 0
	s.pid = 0
	s.processName = ""
}

// stream returns the bound hardware stream, or StreamMaster if unbound.
func (s *Stream) stream() StreamID {
	return StreamID(s.id.Load())
}

func (s *Stream) bound() bool {
	return s.stream() != StreamMaster
}

// frameSize returns the size of one frame in bytes.
func (s *Stream) frameSize() int {
	n := int(s.channels * s.bits / 8)
	if n == 0 {
		return 1
	}

	return n
}

// bufferSize returns the total buffer size in bytes.
func (s *Stream) bufferSize() uint64 {
	return uint64(s.fragSize.Load()) * uint64(s.frags)
}

// setPollHandle installs ph as the pending poll handle, destroying the previous one.
func (s *Stream) setPollHandle(ph PollHandle) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.ph != nil {
		s.ph.Destroy()
	}

	s.ph = ph
}

// dropPollHandle destroys the pending poll handle without notifying it.
func (s *Stream) dropPollHandle() {
	s.setPollHandle(nil)
}

// wake notifies and consumes the pending poll handle.
func (s *Stream) wake() error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.ph == nil {
		return nil
	}

	err := s.ph.Notify()
	s.ph.Destroy()
	s.ph = nil

	return err
}

// bind opens a hardware stream with the current parameters of s.
func (d *Device) bind(s *Stream) error {
	id, err := d.transport.FindAvailableStream()
	if err != nil {
		d.log.Warn().Err(err).Int("slot", s.index).Msg("no hardware stream available")

		return ErrBusy
	}

	desc := StreamDesc{
		SampleRate:   s.sampleRate,
		Channels:     s.channels,
		Bits:         s.bits,
		FragmentSize: s.fragSize.Load(),
		BufferSize:   uint32(s.bufferSize()),
	}

	if err := d.transport.OpenStream(id, desc); err != nil {
		d.log.Warn().Err(err).Int("slot", s.index).Int("stream", int(id)).Msg("failed to open hardware stream")

		return ErrBusy
	}

	if err := d.transport.SetWriteNotification(id, func() { d.notifier.signal(s) }); err != nil {
		d.log.Warn().Err(err).Int("slot", s.index).Msg("write notification unavailable")
	}

	s.id.Store(int64(id))

	d.log.Debug().
		Int("slot", s.index).
		Int("stream", int(id)).
		Uint32("rate", desc.SampleRate).
		Uint32("channels", desc.Channels).
		Uint32("bits", desc.Bits).
		Uint32("fragsize", desc.FragmentSize).
		Uint32("buffer", desc.BufferSize).
		Msg("stream bound")

	return nil
}

// unbind closes the hardware stream of s, if any.
func (d *Device) unbind(s *Stream) {
	id := s.stream()
	if id == StreamMaster {
		return
	}

	if err := d.transport.SetWriteNotification(id, nil); err != nil {
		d.log.Debug().Err(err).Int("slot", s.index).Msg("failed to clear write notification")
	}

	if err := d.transport.CloseStream(id); err != nil {
		d.log.Warn().Err(err).Int("slot", s.index).Int("stream", int(id)).Msg("failed to close hardware stream")
	}

	s.id.Store(int64(StreamMaster))
}

// write implements the write path; s.mu is held.
func (d *Device) write(s *Stream, p []byte, nonblock bool) (int, error) {
	if s.failed.Load() {
		return 0, ErrBrokenPipe
	}

	if len(p) == 0 {
		return 0, nil
	}

	if !s.bound() {
		if err := d.bind(s); err != nil {
			return 0, err
		}
	}

	id := s.stream()

	if nonblock || s.nonblock {
		avail := d.transport.WriteAvail(id)
		frame := s.frameSize()

		n := avail / frame * frame
		if n > len(p) {
			n = len(p)
		}

		if n <= 0 {
			return 0, ErrAgain
		}

		p = p[:n]
	}

	n, err := d.transport.Write(id, p)
	if n <= 0 {
		s.failed.Store(true)
		d.log.Error().Err(err).Int("slot", s.index).Str("process", s.processName).Msg("hardware accepted no data")

		return 0, ErrIO
	}

	if err != nil {
		d.log.Debug().Err(err).Int("slot", s.index).Int("written", n).Msg("short write")
	}

	s.writeCnt += uint64(n)

	return n, nil
}

// poll reports readiness of s and registers ph for the next wake-up.
func (d *Device) poll(s *Stream, ph PollHandle) uint32 {
	s.setPollHandle(ph)

	if s.failed.Load() {
		return POLLHUP
	}

	id := s.stream()
	if id == StreamMaster {
		return POLLOUT
	}

	if d.transport.WriteAvail(id) >= int(s.fragSize.Load()) {
		return POLLOUT
	}

	return 0
}
