// Package pulse plays the emulated device's streams on a PulseAudio server.
//
// Each hardware stream is a playback stream of the server's default sink. Written audio is
// queued in a buffer of the stream's OSS buffer size that the server drains at its own pace.
package pulse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/rs/zerolog"

	"github.com/gen2brain/oss"
	"github.com/gen2brain/oss/internal/softvol"
)

// ErrClosed is returned for operations on a stream that is not open.
var ErrClosed = errors.New("stream closed")

// Config configures the transport.
type Config struct {
	Streams         int    // Concurrent playback streams, default 8.
	ApplicationName string // Client name shown by the server, default "cuse-ossd".

	Logger *zerolog.Logger
}

// session is one open playback stream.
type session struct {
	desc    oss.StreamDesc
	ps      *pulse.PlaybackStream
	queue   ring
	scratch []byte
	closed  bool
	err     error

	underruns int
	done      chan struct{}
}

type stream struct {
	reserved bool
	sess     *session
	volume   oss.Volume
	notify   func()
}

var _ oss.Transport = (*Transport)(nil)

// Transport plays on a PulseAudio server.
type Transport struct {
	config Config
	log    zerolog.Logger
	client *pulse.Client

	mu      sync.Mutex
	space   *sync.Cond // Signaled when queued audio is consumed or a stream closes.
	streams []*stream
	closed  bool
}

// New connects to the server.
func New(config Config) (*Transport, error) {
	if config.Streams <= 0 {
		config.Streams = 8
	}

	if config.ApplicationName == "" {
		config.ApplicationName = "cuse-ossd"
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName(config.ApplicationName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PulseAudio: %w", err)
	}

	t := &Transport{
		config:  config,
		log:     log,
		client:  client,
		streams: make([]*stream, config.Streams),
	}

	t.space = sync.NewCond(&t.mu)

	for i := range t.streams {
		t.streams[i] = &stream{}
	}

	log.Info().Int("streams", config.Streams).Msg("PulseAudio transport ready")

	return t, nil
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
		if !s.reserved {
			return oss.StreamID(i), nil
		}
	}

	return oss.StreamMaster, fmt.Errorf("all %d streams in use", len(t.streams))
}

// StreamDescs implements oss.Transport. The server resamples and remixes, so any rate goes.
func (t *Transport) StreamDescs(id oss.StreamID) ([]oss.StreamDesc, error) {
	if _, err := t.lookup(id); err != nil {
		return nil, err
	}

	var descs []oss.StreamDesc

	for _, bits := range []uint32{16, 8} {
		for _, ch := range []uint32{1, 2} {
			descs = append(descs, oss.StreamDesc{
				SampleRateMin: 8000,
				SampleRateMax: 192000,
				Channels:      ch,
				Bits:          bits,
			})
		}
	}

	return descs, nil
}

func (t *Transport) lookup(id oss.StreamID) (*stream, error) {
	if id < 0 || int(id) >= len(t.streams) {
		return nil, fmt.Errorf("invalid stream %d", id)
	}

	return t.streams[id], nil
}

// OpenStream implements oss.Transport. The fragment duration becomes the requested latency.
func (t *Transport) OpenStream(id oss.StreamID, desc oss.StreamDesc) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	if (desc.Bits != 8 && desc.Bits != 16) || desc.Channels < 1 || desc.Channels > 2 || desc.SampleRate == 0 {
		return fmt.Errorf("invalid stream format %+v", desc)
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return ErrClosed
	}

	if s.reserved {
		t.mu.Unlock()

		return fmt.Errorf("stream %d already open", id)
	}

	s.reserved = true
	s.volume = 0
	t.mu.Unlock()

	sess := &session{
		desc:  desc,
		queue: newRing(int(max(desc.BufferSize, 2*desc.FragmentSize, 4096))),
		done:  make(chan struct{}),
	}

	// No requests to the server are made with t.mu held; its replies and data requests are
	// handled on the same goroutine that calls the readers.
	ps, err := t.client.NewPlayback(t.reader(sess), t.playbackOptions(desc)...)
	if err != nil {
		t.mu.Lock()
		s.reserved = false
		t.mu.Unlock()

		return fmt.Errorf("failed to create playback stream: %w", err)
	}

	sess.ps = ps

	t.mu.Lock()
	s.sess = sess
	t.mu.Unlock()

	ps.Start()

	go t.watch(s, sess)

	t.log.Debug().
		Int("stream", int(id)).
		Uint32("rate", desc.SampleRate).
		Uint32("channels", desc.Channels).
		Uint32("bits", desc.Bits).
		Int("buffer", len(sess.queue.buf)).
		Msg("playback stream opened")

	return nil
}

func (t *Transport) playbackOptions(desc oss.StreamDesc) []pulse.PlaybackOption {
	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(int(desc.SampleRate)),
		pulse.PlaybackLatency(fragmentTime(desc).Seconds()),
	}

	if desc.Channels == 1 {
		opts = append(opts, pulse.PlaybackMono)
	} else {
		opts = append(opts, pulse.PlaybackStereo)
	}

	return opts
}

// fragmentTime returns how long one fragment plays.
func fragmentTime(desc oss.StreamDesc) time.Duration {
	return bytesToDuration(desc, int(max(desc.FragmentSize, 1)))
}

func bytesToDuration(desc oss.StreamDesc, n int) time.Duration {
	rate := int64(desc.SampleRate) * int64(desc.Channels) * int64(desc.Bits/8)
	if rate == 0 {
		return 0
	}

	return time.Duration(int64(n) * int64(time.Second) / rate)
}

// reader returns the function the server pulls audio from.
func (t *Transport) reader(sess *session) pulse.Reader {
	if sess.desc.Bits == 8 {
		return pulse.Uint8Reader(func(out []byte) (int, error) {
			return t.fill(sess, out)
		})
	}

	return pulse.Int16Reader(func(out []int16) (int, error) {
		if cap(sess.scratch) < 2*len(out) {
			sess.scratch = make([]byte, 2*len(out))
		}

		b := sess.scratch[:2*len(out)]

		if _, err := t.fill(sess, b); err != nil {
			return 0, err
		}

		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
		}

		return len(out), nil
	})
}

// fill moves queued audio into out and pads it with silence.
func (t *Transport) fill(sess *session, out []byte) (int, error) {
	t.mu.Lock()

	if sess.closed {
		t.mu.Unlock()

		return 0, pulse.EndOfData
	}

	n := sess.queue.read(out)
	if n < len(out) {
		sess.underruns++
	}

	silence := byte(0)
	if sess.desc.Bits == 8 {
		silence = 0x80
	}

	for i := n; i < len(out); i++ {
		out[i] = silence
	}

	var fn func()
	if n > 0 {
		t.space.Broadcast()

		if sess.queue.free() >= int(sess.desc.FragmentSize) {
			fn = t.notifyOf(sess)
		}
	}

	t.mu.Unlock()

	if fn != nil {
		fn()
	}

	return len(out), nil
}

// notifyOf returns the write notification of the stream sess belongs to. t.mu is held.
func (t *Transport) notifyOf(sess *session) func() {
	for _, s := range t.streams {
		if s.sess == sess {
			return s.notify
		}
	}

	return nil
}

// watch wakes up writers when the server ends the stream.
func (t *Transport) watch(s *stream, sess *session) {
	ticker := time.NewTicker(max(fragmentTime(sess.desc), 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			err := sess.ps.Error()
			if err == nil {
				continue
			}

			t.mu.Lock()
			sess.err = err
			fn := s.notify
			t.space.Broadcast()
			t.mu.Unlock()

			t.log.Warn().Err(err).Msg("playback stream failed")

			if fn != nil {
				fn()
			}

			return
		}
	}
}

// CloseStream implements oss.Transport. Queued audio is dropped.
func (t *Transport) CloseStream(id oss.StreamID) error {
	if id == oss.StreamMaster {
		return nil
	}

	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	sess := t.detach(s)
	t.mu.Unlock()

	if sess != nil {
		sess.ps.Close()
	}

	return nil
}

// detach ends the session of s and frees the stream. t.mu is held.
func (t *Transport) detach(s *stream) *session {
	sess := s.sess
	if sess == nil {
		return nil
	}

	sess.closed = true
	sess.queue.reset()
	close(sess.done)

	if sess.underruns > 0 {
		t.log.Debug().Int("underruns", sess.underruns).Msg("playback stream closed")
	}

	s.sess = nil
	s.notify = nil
	s.reserved = false
	t.space.Broadcast()

	return sess
}

// Write implements oss.Transport. It blocks until p is queued.
func (t *Transport) Write(id oss.StreamID, p []byte) (int, error) {
	s, err := t.lookup(id)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sess := s.sess
	if sess == nil {
		return 0, ErrClosed
	}

	if gain := softvol.Gain(s.volume); gain < 1 {
		p = softvol.Apply(nil, p, sess.desc.Bits, gain)
	}

	written := 0

	for len(p) > 0 {
		for sess.queue.free() == 0 && !sess.closed && sess.err == nil {
			t.space.Wait()
		}

		if sess.closed {
			return written, ErrClosed
		}

		if sess.err != nil {
			return written, sess.err
		}

		n := sess.queue.write(p)
		written += n
		p = p[n:]
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

	if s.sess == nil || s.sess.err != nil {
		return 0
	}

	return s.sess.queue.free()
}

// CurrentLatency implements oss.Transport. It is the queued audio plus the latency requested
// from the server.
func (t *Transport) CurrentLatency(id oss.StreamID) (time.Duration, error) {
	s, err := t.lookup(id)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s.sess == nil {
		return 0, ErrClosed
	}

	return bytesToDuration(s.sess.desc, s.sess.queue.len()) + fragmentTime(s.sess.desc), nil
}

// SetWriteNotification implements oss.Transport.
func (t *Transport) SetWriteNotification(id oss.StreamID, fn func()) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if fn != nil && s.sess == nil {
		return ErrClosed
	}

	s.notify = fn

	return nil
}

// Close implements oss.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil
	}

	t.closed = true

	var open []*session
	for _, s := range t.streams {
		if sess := t.detach(s); sess != nil {
			open = append(open, sess)
		}
	}

	t.mu.Unlock()

	for _, sess := range open {
		sess.ps.Close()
	}

	t.client.Close()

	return nil
}
