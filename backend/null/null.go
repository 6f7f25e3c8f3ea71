// Package null provides a software sink that consumes audio in real time and discards it.
package null

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gen2brain/oss"
)

// Volume range reported by the sink, -60 dB to 0 dB in 1/256 dB steps.
const (
	MinVolume oss.Volume = -60 * 256
	MaxVolume oss.Volume = 0
)

// ErrClosed is returned for operations on a closed stream or transport.
var ErrClosed = errors.New("stream closed")

// Config configures the sink.
type Config struct {
	Streams       int    // Hardware streams, default 4.
	SampleRateMin uint32 // Default 8000.
	SampleRateMax uint32 // Default 192000.

	Logger *zerolog.Logger
}

type stream struct {
	open       bool
	desc       oss.StreamDesc
	bytesPerUs float64
	queued     float64
	last       time.Time
	volume     oss.Volume
	notify     func()
	done       chan struct{}
}

var _ oss.Transport = (*Transport)(nil)

// Transport is a sink with a fixed number of streams that play at the requested rate.
type Transport struct {
	config Config
	log    zerolog.Logger

	mu      sync.Mutex
	streams []*stream
	master  oss.Volume
	closed  bool

	now func() time.Time
}

// New creates a sink.
func New(config Config) *Transport {
	if config.Streams <= 0 {
		config.Streams = 4
	}

	if config.SampleRateMin == 0 {
		config.SampleRateMin = 8000
	}

	if config.SampleRateMax == 0 {
		config.SampleRateMax = 192000
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	t := &Transport{
		config:  config,
		log:     log,
		streams: make([]*stream, config.Streams),
		master:  MaxVolume,
		now:     time.Now,
	}

	for i := range t.streams {
		t.streams[i] = &stream{volume: MaxVolume}
	}

	return t
}

// NumStreams implements oss.Transport.
func (t *Transport) NumStreams() int {
	return len(t.streams)
}

// FindAvailableStream implements oss.Transport.
func (t *Transport) FindAvailableStream() (oss.StreamID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range t.streams {
		if !s.open {
			return oss.StreamID(i), nil
		}
	}

	return oss.StreamMaster, fmt.Errorf("all %d streams in use", len(t.streams))
}

// StreamDescs implements oss.Transport.
func (t *Transport) StreamDescs(id oss.StreamID) ([]oss.StreamDesc, error) {
	if _, err := t.lookup(id); err != nil {
		return nil, err
	}

	return []oss.StreamDesc{{
		SampleRateMin: t.config.SampleRateMin,
		SampleRateMax: t.config.SampleRateMax,
		Channels:      2,
		Bits:          16,
	}}, nil
}

func (t *Transport) lookup(id oss.StreamID) (*stream, error) {
	if id < 0 || int(id) >= len(t.streams) {
		return nil, fmt.Errorf("invalid stream %d", id)
	}

	return t.streams[id], nil
}

// OpenStream implements oss.Transport.
func (t *Transport) OpenStream(id oss.StreamID, desc oss.StreamDesc) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	frame := desc.Channels * desc.Bits / 8
	if frame == 0 || desc.SampleRate == 0 || desc.BufferSize == 0 {
		return fmt.Errorf("invalid stream format %+v", desc)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if s.open {
		return fmt.Errorf("stream %d already open", id)
	}

	s.open = true
	s.desc = desc
	s.bytesPerUs = float64(desc.SampleRate*frame) / 1e6
	s.queued = 0
	s.last = t.now()
	s.volume = MaxVolume
	s.done = make(chan struct{})

	period := time.Duration(float64(desc.FragmentSize) / s.bytesPerUs * float64(time.Microsecond))
	if period <= 0 {
		period = 10 * time.Millisecond
	}

	go t.tick(s, s.done, period)

	t.log.Debug().Int("stream", int(id)).Uint32("rate", desc.SampleRate).Dur("period", period).Msg("null stream opened")

	return nil
}

// tick calls the write notification once per period while data is draining.
func (t *Transport) tick(s *stream, done chan struct{}, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			fn := s.notify
			t.mu.Unlock()

			if fn != nil {
				fn()
			}
		}
	}
}

// CloseStream implements oss.Transport.
func (t *Transport) CloseStream(id oss.StreamID) error {
	if id == oss.StreamMaster {
		return nil
	}

	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeStream(s)

	return nil
}

func (t *Transport) closeStream(s *stream) {
	if !s.open {
		return
	}

	s.open = false
	s.notify = nil
	close(s.done)
}

// drain consumes the data played since the last call. t.mu is held.
func (t *Transport) drain(s *stream) {
	now := t.now()

	played := float64(now.Sub(s.last).Microseconds()) * s.bytesPerUs
	s.queued = max(s.queued-played, 0)
	s.last = now
}

func (t *Transport) avail(s *stream) int {
	t.drain(s)

	return int(s.desc.BufferSize) - int(s.queued+0.5)
}

// Write implements oss.Transport. It blocks until all of p has been queued.
func (t *Transport) Write(id oss.StreamID, p []byte) (int, error) {
	s, err := t.lookup(id)
	if err != nil {
		return 0, err
	}

	written := 0

	for written < len(p) {
		t.mu.Lock()
		if !s.open {
			t.mu.Unlock()

			return written, ErrClosed
		}

		space := t.avail(s)
		if space > 0 {
			n := min(space, len(p)-written)
			s.queued += float64(n)
			written += n
			t.mu.Unlock()

			continue
		}

		wait := time.Duration(float64(s.desc.FragmentSize)/s.bytesPerUs) * time.Microsecond
		t.mu.Unlock()

		time.Sleep(max(wait/4, time.Millisecond))
	}

	return written, nil
}

// WriteAvail implements oss.Transport.
func (t *Transport) WriteAvail(id oss.StreamID) int {
	s, err := t.lookup(id)
	if err != nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.open {
		return 0
	}

	return max(t.avail(s), 0)
}

// CurrentLatency implements oss.Transport.
func (t *Transport) CurrentLatency(id oss.StreamID) (time.Duration, error) {
	s, err := t.lookup(id)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.open {
		return 0, ErrClosed
	}

	t.drain(s)

	return time.Duration(math.Round(s.queued/s.bytesPerUs)) * time.Microsecond, nil
}

// Volume implements oss.Transport.
func (t *Transport) Volume(id oss.StreamID, _ time.Duration) (oss.VolumeInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := oss.VolumeInfo{Current: t.master, Min: MinVolume, Max: MaxVolume}

	if id != oss.StreamMaster {
		s, err := t.lookup(id)
		if err != nil {
			return oss.VolumeInfo{}, err
		}

		info.Current = s.volume
	}

	return info, nil
}

// SetVolume implements oss.Transport.
func (t *Transport) SetVolume(id oss.StreamID, vol oss.Volume, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == oss.StreamMaster {
		t.master = vol

		return nil
	}

	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	s.volume = vol

	return nil
}

// SetWriteNotification implements oss.Transport.
func (t *Transport) SetWriteNotification(id oss.StreamID, fn func()) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if fn != nil && !s.open {
		return ErrClosed
	}

	s.notify = fn

	return nil
}

// Close implements oss.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	for _, s := range t.streams {
		t.closeStream(s)
	}

	return nil
}
