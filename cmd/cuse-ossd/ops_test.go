package main

import (
	"encoding/binary"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/oss"
	"github.com/gen2brain/oss/backend/null"
	"github.com/gen2brain/oss/cmd/internal/app"
	"github.com/gen2brain/oss/cuse"
)

func newOps(t *testing.T) *ops {
	t.Helper()

	dev, err := oss.NewDevice(null.New(null.Config{Streams: 2}), oss.Config{MaxStreams: 2})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, dev.Close())
	})

	return &ops{dev: dev}
}

func TestOpsIoctlRetry(t *testing.T) {
	o := newOps(t)
	h := &cuse.Header{PID: 1}

	fh, err := o.Open(h, oss.O_WRONLY)
	require.NoError(t, err)

	// The first pass only asks for the argument.
	out, err := o.Ioctl(h, fh, &cuse.IoctlIn{Cmd: oss.SNDCTL_DSP_SPEED, Arg: 0x1000})
	require.NoError(t, err)
	assert.True(t, out.Retry)
	require.Len(t, out.InIovs, 1)
	require.Len(t, out.OutIovs, 1)
	assert.Equal(t, cuse.Iovec{Base: 0x1000, Len: 4}, out.InIovs[0])

	in := make([]byte, 4)
	binary.NativeEndian.PutUint32(in, 44100)

	out, err = o.Ioctl(h, fh, &cuse.IoctlIn{Cmd: oss.SNDCTL_DSP_SPEED, Arg: 0x1000, In: in, OutSize: 4})
	require.NoError(t, err)
	assert.False(t, out.Retry)
	require.Len(t, out.Out, 4)
	assert.Equal(t, uint32(44100), binary.NativeEndian.Uint32(out.Out))

	_, err = o.Ioctl(h, fh, &cuse.IoctlIn{Cmd: 0xdeadbeef})
	assert.Equal(t, syscall.EINVAL, cuse.Errno(err))

	require.NoError(t, o.Release(h, fh))
}

func TestOpsWriteAndPoll(t *testing.T) {
	o := newOps(t)
	h := &cuse.Header{PID: 1}

	_, err := o.Open(h, oss.O_RDONLY)
	assert.Equal(t, syscall.EACCES, cuse.Errno(err))

	fh, err := o.Open(h, oss.O_WRONLY)
	require.NoError(t, err)

	// Before the first write the stream is not bound and always writable.
	revents, err := o.Poll(h, fh, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(oss.POLLOUT), revents)

	n, err := o.Write(h, fh, make([]byte, 4096), 0)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)

	_, err = o.Poll(h, fh, nil)
	require.NoError(t, err)

	require.NoError(t, o.Release(h, fh))

	_, err = o.Write(h, fh, make([]byte, 4), 0)
	assert.Error(t, err)
}

func TestNewTransport(t *testing.T) {
	tr, err := newTransport(app.BackendConfig{Type: "null"}, 3, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, tr.NumStreams())
	assert.NoError(t, tr.Close())

	_, err = newTransport(app.BackendConfig{Type: "alsa", Card: 999}, 3, zerolog.Nop())
	assert.Error(t, err)
}
