package oss

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu sync.Mutex

	streams int
	open    map[StreamID]StreamDesc
	descs   []StreamDesc
	descErr error

	avail   int
	accept  int // Bytes accepted per write, -1 accepts everything.
	written map[StreamID]int

	latency    time.Duration
	latencyErr error

	vol       VolumeInfo
	volErr    error
	setVols   []Volume
	setVolIDs []StreamID

	notify map[StreamID]func()
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams: 2,
		open:    make(map[StreamID]StreamDesc),
		descs:   []StreamDesc{{SampleRateMin: 8000, SampleRateMax: 96000, Channels: 2, Bits: 16}},
		avail:   1 << 20,
		accept:  -1,
		written: make(map[StreamID]int),
		vol:     VolumeInfo{Current: -0x1000, Min: -0x2000, Max: 0},
		notify:  make(map[StreamID]func()),
	}
}

func (f *fakeTransport) NumStreams() int {
	return f.streams
}

func (f *fakeTransport) FindAvailableStream() (StreamID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 0; i < f.streams; i++ {
		if _, ok := f.open[StreamID(i)]; !ok {
			return StreamID(i), nil
		}
	}

	return StreamMaster, errors.New("no stream available")
}

func (f *fakeTransport) StreamDescs(StreamID) ([]StreamDesc, error) {
	return f.descs, f.descErr
}

func (f *fakeTransport) OpenStream(id StreamID, desc StreamDesc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.open[id]; ok {
		return errors.New("stream already open")
	}

	f.open[id] = desc

	return nil
}

func (f *fakeTransport) CloseStream(id StreamID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.open, id)

	return nil
}

func (f *fakeTransport) Write(id StreamID, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(p)
	if f.accept >= 0 && n > f.accept {
		n = f.accept
	}

	f.written[id] += n

	return n, nil
}

func (f *fakeTransport) WriteAvail(StreamID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.avail
}

func (f *fakeTransport) CurrentLatency(StreamID) (time.Duration, error) {
	return f.latency, f.latencyErr
}

func (f *fakeTransport) Volume(StreamID, time.Duration) (VolumeInfo, error) {
	return f.vol, f.volErr
}

func (f *fakeTransport) SetVolume(id StreamID, vol Volume, _ time.Duration) error {
	if f.volErr != nil {
		return f.volErr
	}

	f.setVols = append(f.setVols, vol)
	f.setVolIDs = append(f.setVolIDs, id)
	f.vol.Current = vol

	return nil
}

func (f *fakeTransport) SetWriteNotification(id StreamID, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fn == nil {
		delete(f.notify, id)
	} else {
		f.notify[id] = fn
	}

	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true

	return nil
}

func (f *fakeTransport) setAvail(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.avail = n
}

func (f *fakeTransport) fire(id StreamID) {
	f.mu.Lock()
	fn := f.notify[id]
	f.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (f *fakeTransport) isOpen(id StreamID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.open[id]

	return ok
}

// fakePollHandle records notifications.
type fakePollHandle struct {
	notified  chan struct{}
	destroyed int
	mu        sync.Mutex
}

func newFakePollHandle() *fakePollHandle {
	return &fakePollHandle{notified: make(chan struct{}, 4)}
}

func (p *fakePollHandle) Notify() error {
	p.notified <- struct{}{}

	return nil
}

func (p *fakePollHandle) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.destroyed++
}

func (p *fakePollHandle) destroyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.destroyed
}

func newTestDevice(t *testing.T, tr *fakeTransport) *Device {
	t.Helper()

	d, err := NewDevice(tr, Config{MaxStreams: 4})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = d.Close()
	})

	return d
}

func openTestStream(t *testing.T, d *Device) uint64 {
	t.Helper()

	fh, err := d.Open(O_WRONLY, 0)
	require.NoError(t, err)

	return fh
}

// ioctl performs both phases of a control request.
func ioctl(t *testing.T, d *Device, fh uint64, cmd uint32, in []byte) ([]byte, error) {
	t.Helper()

	req := &IoctlRequest{Cmd: cmd, Arg: 0x1000}

	reply, err := d.Ioctl(fh, req)
	if err != nil {
		return nil, err
	}

	if !reply.Retry {
		return reply.Out, nil
	}

	for _, iov := range reply.InIov {
		require.Equal(t, uint64(0x1000), iov.Base)
		require.Equal(t, uint64(len(in)), iov.Len)
	}

	req.In = in
	if len(reply.OutIov) > 0 {
		req.OutSize = int(reply.OutIov[0].Len)
	}

	reply, err = d.Ioctl(fh, req)
	if err != nil {
		return nil, err
	}

	require.False(t, reply.Retry)

	return reply.Out, nil
}

func ioctlInt(t *testing.T, d *Device, fh uint64, cmd uint32, arg int32) (int32, error) {
	t.Helper()

	out, err := ioctl(t, d, fh, cmd, binary.NativeEndian.AppendUint32(nil, uint32(arg)))
	if err != nil {
		return 0, err
	}

	require.Len(t, out, 4)

	return int32(binary.NativeEndian.Uint32(out)), nil
}

func ioctlStruct[T any](t *testing.T, d *Device, fh uint64, cmd uint32) T {
	t.Helper()

	var v T

	out, err := ioctl(t, d, fh, cmd, nil)
	require.NoError(t, err)
	require.Len(t, out, int(unsafe.Sizeof(v)))

	copy(bytesOf(&v), out)

	return v
}
