package oss

// allocate claims the lowest free slot.
func (d *Device) allocate() (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.slots {
		s := &d.slots[i]
		if !s.active.Load() {
			s.active.Store(true)

			return s, nil
		}
	}

	return nil, ErrBusy
}

// free returns a slot to the pool.
func (d *Device) free(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s.active.Store(false)
}

// StreamInfo is a snapshot of an open stream.
type StreamInfo struct {
	Slot        int
	PID         uint32
	ProcessName string
	Bound       bool
	Stream      StreamID
	Failed      bool
	SampleRate  uint32
	Channels    uint32
	Bits        uint32
	FragSize    uint32
	Frags       uint32
	Written     uint64
}

// Streams returns a snapshot of every open stream.
func (d *Device) Streams() []StreamInfo {
	var ret []StreamInfo

	for i := range d.slots {
		s := &d.slots[i]
		if !s.active.Load() {
			continue
		}

		s.mu.Lock()
		if s.active.Load() {
			ret = append(ret, StreamInfo{
				Slot:        s.index,
				PID:         s.pid,
				ProcessName: s.processName,
				Bound:       s.bound(),
				Stream:      s.stream(),
				Failed:      s.failed.Load(),
				SampleRate:  s.sampleRate,
				Channels:    s.channels,
				Bits:        s.bits,
				FragSize:    s.fragSize.Load(),
				Frags:       s.frags,
				Written:     s.writeCnt,
			})
		}
		s.mu.Unlock()
	}

	return ret
}
