package oss

import (
	"encoding/binary"
	"time"
	"unsafe"
)

// Iovec names a region of the caller's memory.
type Iovec struct {
	Base uint64
	Len  uint64
}

// IoctlRequest is a control request of a client.
//
// Arg is the address of the caller's argument. Control requests with a payload are handled in
// two phases: first In and OutSize are empty and the reply asks for a retry with the regions
// to transfer; the retried request then carries the input payload and room for the output.
type IoctlRequest struct {
	Cmd     uint32
	Arg     uint64
	In      []byte
	OutSize int
}

// IoctlReply is the result of a control request.
type IoctlReply struct {
	// Retry asks the caller to repeat the request with the regions below transferred.
	Retry  bool
	InIov  []Iovec
	OutIov []Iovec

	// Out is the output payload copied back to the caller.
	Out []byte
}

type ioctlHandler struct {
	name string

	in  uintptr // Input payload size.
	out uintptr // Output payload size.

	// guard runs before any payload is transferred.
	guard func(d *Device, s *Stream) error

	// run gets the decoded input argument and returns the output payload.
	run func(d *Device, s *Stream, arg int32) ([]byte, error)
}

var handlers map[uint32]*ioctlHandler

const intSize = unsafe.Sizeof(int32(0))

func registerHandlers() {
	handlers = make(map[uint32]*ioctlHandler)

	add := func(cmd uint32, h *ioctlHandler) {
		handlers[cmd] = h
	}

	add(OSS_GETVERSION, &ioctlHandler{name: "OSS_GETVERSION", out: intSize, run: getVersion})
	add(SNDCTL_DSP_GETCAPS, &ioctlHandler{name: "SNDCTL_DSP_GETCAPS", out: intSize, run: getCaps})
	add(SNDCTL_DSP_NONBLOCK, &ioctlHandler{name: "SNDCTL_DSP_NONBLOCK", run: setNonblock})
	add(SNDCTL_DSP_RESET, &ioctlHandler{name: "SNDCTL_DSP_RESET", run: halt})
	add(SNDCTL_DSP_SYNC, &ioctlHandler{name: "SNDCTL_DSP_SYNC", run: drain})
	add(SNDCTL_DSP_POST, &ioctlHandler{name: "SNDCTL_DSP_POST", run: post})
	add(SNDCTL_DSP_SPEED, &ioctlHandler{name: "SNDCTL_DSP_SPEED", in: intSize, out: intSize, run: speed})
	add(SNDCTL_DSP_GETFMTS, &ioctlHandler{name: "SNDCTL_DSP_GETFMTS", out: intSize, run: format})
	add(SNDCTL_DSP_SETFMT, &ioctlHandler{name: "SNDCTL_DSP_SETFMT", in: intSize, out: intSize, run: format})
	add(SNDCTL_DSP_CHANNELS, &ioctlHandler{name: "SNDCTL_DSP_CHANNELS", in: intSize, out: intSize, run: channels})
	add(SNDCTL_DSP_STEREO, &ioctlHandler{name: "SNDCTL_DSP_STEREO", in: intSize, out: intSize, run: stereo})
	add(SNDCTL_DSP_GETOSPACE, &ioctlHandler{name: "SNDCTL_DSP_GETOSPACE", out: unsafe.Sizeof(AudioBufInfo{}), run: getOSpace})
	add(SNDCTL_DSP_GETBLKSIZE, &ioctlHandler{name: "SNDCTL_DSP_GETBLKSIZE", out: intSize, run: getBlkSize})
	add(SNDCTL_DSP_SETFRAGMENT, &ioctlHandler{name: "SNDCTL_DSP_SETFRAGMENT", in: intSize, out: intSize, guard: unbound, run: setFragment})
	add(SNDCTL_DSP_GETODELAY, &ioctlHandler{name: "SNDCTL_DSP_GETODELAY", out: intSize, run: getODelay})
	add(SNDCTL_DSP_GETOPTR, &ioctlHandler{name: "SNDCTL_DSP_GETOPTR", out: unsafe.Sizeof(CountInfo{}), run: getOPtr})
	add(SNDCTL_DSP_SETPLAYVOL, &ioctlHandler{name: "SNDCTL_DSP_SETPLAYVOL", in: intSize, out: intSize, run: setPlayVol})
	add(SNDCTL_DSP_GETPLAYVOL, &ioctlHandler{name: "SNDCTL_DSP_GETPLAYVOL", out: intSize, run: getPlayVol})
	add(SNDCTL_DSP_SETTRIGGER, &ioctlHandler{name: "SNDCTL_DSP_SETTRIGGER", in: intSize, run: post})
	add(SNDCTL_DSP_COOKEDMODE, &ioctlHandler{name: "SNDCTL_DSP_COOKEDMODE", in: intSize, run: post})
}

// ioctl dispatches a control request; s.mu is held.
func (d *Device) ioctl(s *Stream, req *IoctlRequest) (*IoctlReply, error) {
	h, ok := handlers[req.Cmd]
	if !ok {
		d.log.Debug().Int("slot", s.index).Uint32("cmd", req.Cmd).Msg("unknown control request")

		return nil, ErrInvalid
	}

	if h.guard != nil {
		if err := h.guard(d, s); err != nil {
			return nil, err
		}
	}

	if (h.in > 0 && len(req.In) == 0) || (h.out > 0 && req.OutSize == 0) {
		// Both directions are requested together so that the retry carries everything.
		reply := &IoctlReply{Retry: true}

		if h.in > 0 {
			reply.InIov = []Iovec{{Base: req.Arg, Len: uint64(h.in)}}
		}

		if h.out > 0 {
			reply.OutIov = []Iovec{{Base: req.Arg, Len: uint64(h.out)}}
		}

		return reply, nil
	}

	var arg int32
	if h.in > 0 {
		if uintptr(len(req.In)) < h.in {
			return nil, ErrInvalid
		}

		arg = int32(binary.NativeEndian.Uint32(req.In))
	}

	if h.out > 0 && uintptr(req.OutSize) < h.out {
		return nil, ErrInvalid
	}

	out, err := h.run(d, s, arg)
	if err != nil {
		d.log.Debug().Err(err).Int("slot", s.index).Str("cmd", h.name).Int32("arg", arg).Msg("control request failed")

		return nil, err
	}

	d.log.Trace().Int("slot", s.index).Str("cmd", h.name).Int32("arg", arg).Msg("control request")

	return &IoctlReply{Out: out}, nil
}

// bytesOf returns the in-memory representation of v.
func bytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

func intReply(v int32) []byte {
	return bytesOf(&v)
}

func unbound(_ *Device, s *Stream) error {
	if s.bound() {
		return ErrInvalid
	}

	return nil
}

func getVersion(_ *Device, _ *Stream, _ int32) ([]byte, error) {
	return intReply(Version), nil
}

func getCaps(d *Device, _ *Stream, _ int32) ([]byte, error) {
	caps := int32(DSP_CAP_REALTIME | DSP_CAP_TRIGGER)
	if d.transport.NumStreams() > 1 {
		caps |= DSP_CAP_MULTI
	}

	return intReply(caps), nil
}

func setNonblock(_ *Device, s *Stream, _ int32) ([]byte, error) {
	s.nonblock = true

	return nil, nil
}

func halt(d *Device, s *Stream, _ int32) ([]byte, error) {
	d.unbind(s)
	s.writeCnt = 0

	return nil, nil
}

func drain(d *Device, s *Stream, _ int32) ([]byte, error) {
	if !s.bound() {
		return nil, nil
	}

	lat, err := d.transport.CurrentLatency(s.stream())
	if err == nil && lat > 0 {
		time.Sleep(lat)
	}

	return nil, nil
}

func post(_ *Device, _ *Stream, _ int32) ([]byte, error) {
	return nil, nil
}

func speed(d *Device, s *Stream, arg int32) ([]byte, error) {
	id := s.stream()
	if id == StreamMaster {
		var err error
		if id, err = d.transport.FindAvailableStream(); err != nil {
			return nil, ErrBusy
		}
	}

	descs, err := d.transport.StreamDescs(id)
	if err != nil || len(descs) == 0 {
		return nil, ErrNoMemory
	}

	// Only the first descriptor is considered.
	desc := descs[0]

	rate := uint32(max(arg, 0))
	if desc.SampleRate != 0 {
		rate = desc.SampleRate
	} else {
		rate = min(max(rate, desc.SampleRateMin), desc.SampleRateMax)
	}

	s.sampleRate = rate

	return intReply(int32(rate)), nil
}

func format(_ *Device, s *Stream, arg int32) ([]byte, error) {
	switch s.bits {
	case 8:
		arg = int32(AFMT_U8)
	case 16:
		arg = int32(AFMT_S16_LE)
	}

	return intReply(arg), nil
}

func channels(_ *Device, s *Stream, _ int32) ([]byte, error) {
	return intReply(int32(s.channels)), nil
}

func stereo(_ *Device, s *Stream, _ int32) ([]byte, error) {
	var v int32
	if s.channels > 1 {
		v = 1
	}

	return intReply(v), nil
}

// space returns the writable bytes of s.
func (d *Device) space(s *Stream) int {
	if !s.bound() {
		return int(s.bufferSize()) - 1
	}

	return d.transport.WriteAvail(s.stream())
}

func getOSpace(d *Device, s *Stream, _ int32) ([]byte, error) {
	fragSize := int(s.fragSize.Load())
	avail := d.space(s)

	info := AudioBufInfo{
		FragsTotal: int32(s.frags),
		FragSize:   int32(fragSize),
		Bytes:      int32(avail),
	}

	if fragSize > 0 {
		info.Fragments = int32(avail / fragSize)
	}

	return bytesOf(&info), nil
}

func getBlkSize(_ *Device, s *Stream, _ int32) ([]byte, error) {
	return intReply(int32(s.fragSize.Load())), nil
}

func setFragment(_ *Device, s *Stream, arg int32) ([]byte, error) {
	frags := uint32(arg) >> 16

	var fragSize uint32
	if shift := uint32(arg) & 0xffff; shift < 32 {
		fragSize = 1 << shift
	}

	if fragSize < 512 || frags < 2 {
		return nil, ErrInvalid
	}

	s.fragSize.Store(fragSize)
	s.frags = nextPow2(frags)

	return intReply(arg), nil
}

// delayBytes converts a latency to bytes of audio of s.
func (s *Stream) delayBytes(lat time.Duration) int64 {
	return lat.Microseconds() * int64(s.sampleRate) * int64(s.channels) * int64(s.bits/8) / 1000000
}

func getODelay(d *Device, s *Stream, _ int32) ([]byte, error) {
	var delay int64

	if s.bound() {
		if lat, err := d.transport.CurrentLatency(s.stream()); err == nil {
			delay = s.delayBytes(lat)
		}
	}

	return intReply(int32(delay)), nil
}

func getOPtr(d *Device, s *Stream, _ int32) ([]byte, error) {
	fragSize := int64(s.fragSize.Load())
	buffer := int64(s.bufferSize())

	cnt := int64(s.writeCnt) + int64(d.space(s)) - (buffer - 1)
	cnt = max(cnt, 0)

	var info CountInfo
	info.Bytes = int32(cnt)

	if fragSize > 0 {
		info.Blocks = int32(cnt / fragSize)
	}

	if buffer > 0 {
		info.Ptr = int32(cnt % buffer)
	}

	return bytesOf(&info), nil
}

func setPlayVol(d *Device, s *Stream, arg int32) ([]byte, error) {
	left := int(arg & 0xff)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setVolume(s, left); err != nil {
		return nil, err
	}

	return intReply(PackVolume(left, left)), nil
}

func getPlayVol(d *Device, s *Stream, _ int32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.readVolume(s); err != nil {
		return nil, err
	}

	return intReply(PackVolume(s.volume, s.volume)), nil
}
