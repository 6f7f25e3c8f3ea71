package alsa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/oss"
	"github.com/gen2brain/oss/internal/softvol"
)

// AutoCard selects the first USB audio card.
const AutoCard = -1

// Volume range assumed for a control without dB information.
const fallbackMinDB = -60 * 100

// ErrClosed is returned for operations on a stream that is not open.
var ErrClosed = errors.New("stream closed")

// Options configures the transport.
type Options struct {
	Card   int  // Card number, or AutoCard.
	Device uint // Playback PCM device of the card.

	// OnVolumeChange is called from the mixer watcher when the playback volume of the card
	// changes outside of the transport, for example from alsamixer or the device's knob.
	OnVolumeChange func(oss.VolumeInfo)

	Logger *zerolog.Logger
}

type stream struct {
	// io is held for reading by writers and for writing while the PCM is replaced.
	io     sync.RWMutex
	pcm    *PCM
	desc   oss.StreamDesc
	volume oss.Volume
	buf    []byte
	carry  frameCarry

	notify func()
	done   chan struct{}
}

var _ oss.Transport = (*Transport)(nil)

// Transport plays audio on the subdevices of one ALSA playback PCM.
type Transport struct {
	options Options
	log     zerolog.Logger
	card    uint

	mixer  *Mixer
	volCtl *MixerCtl
	scale  DBScale
	descs  []oss.StreamDesc

	// volMu guards the stream levels, the software master level and the mixer handle.
	volMu      sync.Mutex
	softMaster oss.Volume

	mu      sync.Mutex
	streams []*stream
	closed  bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New opens the card's control device, queries the capabilities of the playback PCM and
// starts watching the mixer.
func New(options Options) (*Transport, error) {
	log := zerolog.Nop()
	if options.Logger != nil {
		log = *options.Logger
	}

	card := options.Card
	if card == AutoCard {
		c, err := FindUSBCard()
		if err != nil {
			return nil, err
		}

		card = c.ID
		log.Info().Int("card", c.ID).Str("name", c.Name).Str("description", c.Description).Msg("using USB audio card")
	}

	mixer, err := MixerOpen(uint(card))
	if err != nil {
		return nil, err
	}

	info, err := mixer.PcmInfo(options.Device)
	if err != nil {
		_ = mixer.Close()

		return nil, fmt.Errorf("playback device %d of card %d: %w", options.Device, card, err)
	}

	params, err := PcmParamsGetRefined(uint(card), options.Device)
	if err != nil {
		_ = mixer.Close()

		return nil, err
	}

	t := &Transport{
		options: options,
		log:     log,
		card:    uint(card),
		mixer:   mixer,
		descs:   params.Descs(SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_U8),
		streams: make([]*stream, max(info.Subdevices, 1)),
	}

	if len(t.descs) == 0 {
		_ = mixer.Close()

		return nil, fmt.Errorf("card %d device %d supports neither S16_LE nor U8", card, options.Device)
	}

	for i := range t.streams {
		t.streams[i] = &stream{}
	}

	t.volCtl, err = mixer.PlaybackVolume()
	if err != nil {
		log.Warn().Err(err).Msg("no hardware volume control, master volume is applied in software")
	} else {
		t.scale, err = t.volCtl.DBScale()
		if err != nil {
			rmin, _ := t.volCtl.RangeMin()
			rmax, _ := t.volCtl.RangeMax()
			t.scale = DBScale{Min: fallbackMinDB, Max: 0}

			log.Debug().Err(err).Int("min", rmin).Int("max", rmax).Msg("volume control has no dB scale")
		}

		log.Debug().Str("control", t.volCtl.Name()).Int("min_db100", t.scale.Min).Int("max_db100", t.scale.Max).Msg("master volume control")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.group, ctx = errgroup.WithContext(ctx)

	if t.volCtl != nil && options.OnVolumeChange != nil {
		t.group.Go(func() error {
			return t.watch(ctx)
		})
	}

	log.Info().
		Str("card", mixer.Name()).
		Uint("device", options.Device).
		Str("pcm", info.Name).
		Int("streams", len(t.streams)).
		Msg("ALSA transport ready")

	return t, nil
}

// Card returns the number of the card in use.
func (t *Transport) Card() uint {
	return t.card
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
		if s.pcm == nil {
			return oss.StreamID(i), nil
		}
	}

	return oss.StreamMaster, fmt.Errorf("all %d subdevices in use", len(t.streams))
}

// StreamDescs implements oss.Transport.
func (t *Transport) StreamDescs(id oss.StreamID) ([]oss.StreamDesc, error) {
	if _, err := t.lookup(id); err != nil {
		return nil, err
	}

	return t.descs, nil
}

func (t *Transport) lookup(id oss.StreamID) (*stream, error) {
	if id < 0 || int(id) >= len(t.streams) {
		return nil, fmt.Errorf("invalid stream %d", id)
	}

	return t.streams[id], nil
}

// OpenStream implements oss.Transport. Fragment and buffer sizes become the period and
// buffer geometry of the subdevice.
func (t *Transport) OpenStream(id oss.StreamID, desc oss.StreamDesc) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	format := FormatForBits(desc.Bits)
	frame := desc.Channels * desc.Bits / 8

	if format == SNDRV_PCM_FORMAT_INVALID || frame == 0 || desc.SampleRate == 0 {
		return fmt.Errorf("invalid stream format %+v", desc)
	}

	config := &Config{
		Channels:    desc.Channels,
		Rate:        desc.SampleRate,
		Format:      format,
		PeriodSize:  max(desc.FragmentSize/frame, 1),
		PeriodCount: max(desc.BufferSize/max(desc.FragmentSize, 1), 2),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if s.pcm != nil {
		return fmt.Errorf("stream %d already open", id)
	}

	if err := t.mixer.PreferSubdevice(int(id)); err != nil {
		t.log.Debug().Err(err).Int("stream", int(id)).Msg("subdevice preference not supported")
	}

	pcm, err := PcmOpen(t.card, t.options.Device, 0, config)
	if err != nil {
		// Some drivers reject the exact period count; let them pick.
		config.PeriodCount = 0
		pcm, err = PcmOpen(t.card, t.options.Device, 0, config)
	}

	if err != nil {
		return err
	}

	t.volMu.Lock()
	s.volume = 0
	t.volMu.Unlock()

	s.io.Lock()
	s.pcm = pcm
	s.desc = desc
	s.carry.reset()
	s.io.Unlock()

	done := make(chan struct{})
	s.done = done

	t.group.Go(func() error {
		t.tick(s, pcm, done)

		return nil
	})

	pc := pcm.Config()

	t.log.Debug().
		Int("stream", int(id)).
		Uint32("subdevice", pcm.Subdevice()).
		Uint32("rate", pc.Rate).
		Uint32("channels", pc.Channels).
		Str("format", pc.Format.String()).
		Uint32("period", pc.PeriodSize).
		Uint32("periods", pc.PeriodCount).
		Msg("subdevice opened")

	return nil
}

// tick calls the write notification whenever buffer space grew during the last period.
func (t *Transport) tick(s *stream, pcm *PCM, done chan struct{}) {
	ticker := time.NewTicker(max(pcm.PeriodTime(), time.Millisecond))
	defer ticker.Stop()

	var last uint32

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.io.RLock()
			if s.pcm != pcm {
				s.io.RUnlock()

				return
			}

			st, err := pcm.Status()
			s.io.RUnlock()

			if err != nil {
				continue
			}

			t.mu.Lock()
			fn := s.notify
			t.mu.Unlock()

			if fn != nil && st.Avail > last {
				fn()
			}

			last = st.Avail
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

	return t.closeStream(s)
}

// closeStream drops pending audio and closes the subdevice. t.mu is held.
func (t *Transport) closeStream(s *stream) error {
	if s.pcm == nil {
		return nil
	}

	close(s.done)
	s.notify = nil

	// Wakes up a blocked writer.
	_ = s.pcm.Stop()

	s.io.Lock()
	pcm := s.pcm
	s.pcm = nil
	s.io.Unlock()

	return pcm.Close()
}

// Write implements oss.Transport. It blocks until all whole frames of p are queued. A trailing
// partial frame is accepted and held back until the next write completes it.
func (t *Transport) Write(id oss.StreamID, p []byte) (int, error) {
	s, err := t.lookup(id)
	if err != nil {
		return 0, err
	}

	s.io.RLock()
	defer s.io.RUnlock()

	if s.pcm == nil {
		return 0, ErrClosed
	}

	data := s.carry.join(p)
	whole := len(data) / int(s.pcm.FrameSize()) * int(s.pcm.FrameSize())

	var n int

	if whole > 0 {
		out := data[:whole]
		if gain := t.gain(s); gain < 1 {
			s.buf = softvol.Apply(s.buf, out, s.desc.Bits, gain)
			out = s.buf
		}

		n, err = s.pcm.Write(out)
	}

	return s.carry.advance(data, whole, n), err
}

// frameCarry keeps the bytes of an incomplete frame between writes of one stream.
type frameCarry struct {
	pending []byte
	joined  []byte
}

func (c *frameCarry) reset() {
	c.pending = c.pending[:0]
}

// join returns the pending bytes followed by p.
func (c *frameCarry) join(p []byte) []byte {
	if len(c.pending) == 0 {
		return p
	}

	c.joined = append(append(c.joined[:0], c.pending...), p...)

	return c.joined
}

// advance records that n of the first whole bytes of data were written and returns how many
// bytes of the input passed to join were consumed. The incomplete tail of data is kept only
// when every whole frame was written.
func (c *frameCarry) advance(data []byte, whole, n int) int {
	held := len(c.pending)

	if n < whole {
		if n < held {
			c.pending = append(c.pending[:0], data[n:held]...)

			return 0
		}

		c.pending = c.pending[:0]

		return n - held
	}

	c.pending = append(c.pending[:0], data[whole:]...)

	return len(data) - held
}

// gain returns the software gain of a stream: its own level, plus the master level when the
// card has no volume control.
func (t *Transport) gain(s *stream) float64 {
	t.volMu.Lock()
	defer t.volMu.Unlock()

	gain := softvol.Gain(s.volume)
	if t.volCtl == nil {
		gain *= softvol.Gain(t.softMaster)
	}

	return gain
}

// WriteAvail implements oss.Transport.
func (t *Transport) WriteAvail(id oss.StreamID) int {
	s, err := t.lookup(id)
	if err != nil {
		return 0
	}

	s.io.RLock()
	defer s.io.RUnlock()

	if s.pcm == nil {
		return 0
	}

	st, err := s.pcm.Status()
	if err != nil {
		return 0
	}

	return int(PcmFramesToBytes(s.pcm, st.Avail))
}

// CurrentLatency implements oss.Transport.
func (t *Transport) CurrentLatency(id oss.StreamID) (time.Duration, error) {
	s, err := t.lookup(id)
	if err != nil {
		return 0, err
	}

	s.io.RLock()
	defer s.io.RUnlock()

	if s.pcm == nil {
		return 0, ErrClosed
	}

	delay, err := s.pcm.Delay()
	if err != nil {
		// Not running yet, nothing queued is playing.
		return 0, nil
	}

	return s.pcm.FramesToDuration(uint32(max(delay, 0))), nil
}

// SetWriteNotification implements oss.Transport.
func (t *Transport) SetWriteNotification(id oss.StreamID, fn func()) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if fn != nil && s.pcm == nil {
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

	var errs []error
	for _, s := range t.streams {
		errs = append(errs, t.closeStream(s))
	}

	t.mu.Unlock()

	t.cancel()
	errs = append(errs, t.group.Wait(), t.mixer.Close())

	return errors.Join(errs...)
}
