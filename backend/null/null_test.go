package null

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/oss"
)

var testDesc = oss.StreamDesc{
	SampleRate:   48000,
	Channels:     2,
	Bits:         16,
	FragmentSize: 4096,
	BufferSize:   16384,
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newClockedTransport(config Config) (*Transport, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}

	t := New(config)
	t.now = clock.Now

	return t, clock
}

func TestStreams(t *testing.T) {
	tr := New(Config{Streams: 2})
	defer tr.Close()

	assert.Equal(t, 2, tr.NumStreams())

	id, err := tr.FindAvailableStream()
	require.NoError(t, err)
	assert.Equal(t, oss.StreamID(0), id)

	require.NoError(t, tr.OpenStream(id, testDesc))
	assert.Error(t, tr.OpenStream(id, testDesc), "already open")

	id, err = tr.FindAvailableStream()
	require.NoError(t, err)
	assert.Equal(t, oss.StreamID(1), id)
	require.NoError(t, tr.OpenStream(id, testDesc))

	_, err = tr.FindAvailableStream()
	assert.Error(t, err)

	require.NoError(t, tr.CloseStream(0))
	require.NoError(t, tr.CloseStream(oss.StreamMaster))

	id, err = tr.FindAvailableStream()
	require.NoError(t, err)
	assert.Equal(t, oss.StreamID(0), id)

	assert.Error(t, tr.OpenStream(5, testDesc))
	assert.Error(t, tr.OpenStream(0, oss.StreamDesc{}))

	descs, err := tr.StreamDescs(0)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Zero(t, descs[0].SampleRate)
	assert.Equal(t, uint32(8000), descs[0].SampleRateMin)
	assert.Equal(t, uint32(192000), descs[0].SampleRateMax)
}

func TestPlayback(t *testing.T) {
	tr, clock := newClockedTransport(Config{})
	defer tr.Close()

	require.NoError(t, tr.OpenStream(0, testDesc))
	assert.Equal(t, 16384, tr.WriteAvail(0))

	n, err := tr.Write(0, make([]byte, 9600))
	require.NoError(t, err)
	assert.Equal(t, 9600, n)
	assert.Equal(t, 16384-9600, tr.WriteAvail(0))

	// 9600 bytes is 50ms at 48kHz stereo S16.
	lat, err := tr.CurrentLatency(0)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, lat)

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, 16384-4800, tr.WriteAvail(0))

	clock.Advance(time.Second)
	assert.Equal(t, 16384, tr.WriteAvail(0))

	lat, err = tr.CurrentLatency(0)
	require.NoError(t, err)
	assert.Zero(t, lat)

	require.NoError(t, tr.CloseStream(0))
	assert.Zero(t, tr.WriteAvail(0))

	_, err = tr.CurrentLatency(0)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = tr.Write(0, make([]byte, 4))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBlockingWrite(t *testing.T) {
	tr := New(Config{})
	defer tr.Close()

	require.NoError(t, tr.OpenStream(0, testDesc))

	// A full buffer plus 4800 bytes needs about 25ms of playback.
	start := time.Now()
	n, err := tr.Write(0, make([]byte, 16384+4800))
	require.NoError(t, err)
	assert.Equal(t, 16384+4800, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWriteNotification(t *testing.T) {
	tr := New(Config{})
	defer tr.Close()

	require.NoError(t, tr.OpenStream(0, testDesc))

	called := make(chan struct{}, 16)
	require.NoError(t, tr.SetWriteNotification(0, func() {
		select {
		case called <- struct{}{}:
		default:
		}
	}))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("notification not called")
	}

	require.NoError(t, tr.SetWriteNotification(0, nil))
	require.NoError(t, tr.CloseStream(0))

	assert.ErrorIs(t, tr.SetWriteNotification(0, func() {}), ErrClosed)
}

func TestVolume(t *testing.T) {
	tr := New(Config{})
	defer tr.Close()

	info, err := tr.Volume(oss.StreamMaster, 0)
	require.NoError(t, err)
	assert.Equal(t, oss.VolumeInfo{Current: MaxVolume, Min: MinVolume, Max: MaxVolume}, info)

	require.NoError(t, tr.SetVolume(oss.StreamMaster, -0x100, 0))
	require.NoError(t, tr.SetVolume(1, -0x200, 0))

	info, err = tr.Volume(oss.StreamMaster, 0)
	require.NoError(t, err)
	assert.Equal(t, oss.Volume(-0x100), info.Current)

	info, err = tr.Volume(1, 0)
	require.NoError(t, err)
	assert.Equal(t, oss.Volume(-0x200), info.Current)

	assert.Error(t, tr.SetVolume(10, 0, 0))
}

func TestDevice(t *testing.T) {
	tr := New(Config{Streams: 2})

	d, err := oss.NewDevice(tr, oss.Config{FragmentSize: 4096, FragmentCount: 4})
	require.NoError(t, err)
	defer d.Close()

	fh, err := d.Open(oss.O_WRONLY|oss.O_NONBLOCK, 0)
	require.NoError(t, err)

	// Fill the buffer without blocking.
	total := 0
	for {
		n, err := d.Write(fh, make([]byte, 4096), oss.O_NONBLOCK)
		if err != nil {
			assert.ErrorIs(t, err, oss.ErrAgain)

			break
		}

		total += n
		require.Less(t, total, 1<<20)
	}

	assert.GreaterOrEqual(t, total, 16384)

	ph := &pollHandle{notified: make(chan struct{}, 1)}

	revents, err := d.Poll(fh, ph)
	require.NoError(t, err)

	if revents == 0 {
		select {
		case <-ph.notified:
		case <-time.After(time.Second):
			t.Fatal("poll not woken up")
		}
	}

	n, err := d.Write(fh, make([]byte, 4096), oss.O_NONBLOCK)
	require.NoError(t, err)
	assert.Positive(t, n)

	require.NoError(t, d.Release(fh))
}

type pollHandle struct {
	notified chan struct{}
}

func (p *pollHandle) Notify() error {
	p.notified <- struct{}{}

	return nil
}

func (p *pollHandle) Destroy() {}
