//go:build linux

package cuse

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// The kernel side of /dev/cuse is emulated with a SOCK_SEQPACKET socketpair, which keeps
// message boundaries like the control device does.

type testOps struct {
	mu       sync.Mutex
	written  []byte
	released []uint64
	ph       *PollHandle
	writeErr error
}

func (o *testOps) Open(h *Header, flags uint32) (uint64, error) {
	if flags&syscall.O_ACCMODE != syscall.O_WRONLY {
		return 0, syscall.EACCES
	}

	return 7, nil
}

func (o *testOps) Write(h *Header, fh uint64, data []byte, flags uint32) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writeErr != nil {
		return 0, o.writeErr
	}

	o.written = append(o.written, data...)

	return len(data), nil
}

func (o *testOps) Ioctl(h *Header, fh uint64, in *IoctlIn) (*IoctlOut, error) {
	switch in.Cmd {
	case 1:
		// Doubles an int in place.
		if len(in.In) == 0 || in.OutSize == 0 {
			iov := []Iovec{{Base: in.Arg, Len: 4}}

			return &IoctlOut{Retry: true, InIovs: iov, OutIovs: iov}, nil
		}

		v := binary.NativeEndian.Uint32(in.In)

		return &IoctlOut{Out: binary.NativeEndian.AppendUint32(nil, v*2)}, nil
	case 2:
		return &IoctlOut{Result: 5}, nil
	default:
		return nil, syscall.EINVAL
	}
}

func (o *testOps) Poll(h *Header, fh uint64, ph *PollHandle) (uint32, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ph = ph

	return unix.POLLOUT, nil
}

func (o *testOps) Release(h *Header, fh uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.released = append(o.released, fh)

	return nil
}

// kernel is the test side of the socketpair.
type kernel struct {
	t      *testing.T
	file   *os.File
	unique uint64
}

func newTestServer(t *testing.T, ops Ops) (*Server, *kernel) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	srv, err := NewServer(os.NewFile(uintptr(fds[0]), "cuse"), Config{Name: "dsp-test", MaxWrite: 4096, Workers: 4}, ops)
	require.NoError(t, err)

	k := &kernel{t: t, file: os.NewFile(uintptr(fds[1]), "kernel")}

	t.Cleanup(func() {
		_ = k.file.Close()
		_ = srv.Close()
	})

	return srv, k
}

func (k *kernel) send(op opcode, args ...[]byte) uint64 {
	k.t.Helper()

	k.unique++

	size := inHeaderSize
	for _, a := range args {
		size += len(a)
	}

	hdr := inHeader{Len: uint32(size), Opcode: op, Unique: k.unique, PID: 1234}

	buf := append([]byte(nil), bytesOf(&hdr)...)
	for _, a := range args {
		buf = append(buf, a...)
	}

	_, err := k.file.Write(buf)
	require.NoError(k.t, err)

	return k.unique
}

func (k *kernel) recv() (outHeader, []byte) {
	k.t.Helper()

	require.NoError(k.t, k.file.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 64*1024)
	n, err := k.file.Read(buf)
	require.NoError(k.t, err)
	require.GreaterOrEqual(k.t, n, outHeaderSize)

	hdr, body := decode[outHeader](buf[:n])
	require.Equal(k.t, uint32(n), hdr.Len)

	return hdr, body
}

func (k *kernel) expectNone() {
	k.t.Helper()

	require.NoError(k.t, k.file.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

	buf := make([]byte, 1024)
	_, err := k.file.Read(buf)
	require.ErrorIs(k.t, err, os.ErrDeadlineExceeded)
}

func (k *kernel) handshake(minor uint32) cuseInitOut {
	k.t.Helper()

	in := cuseInitIn{Major: 7, Minor: minor}
	unique := k.send(opCuseInit, bytesOf(&in))

	hdr, body := k.recv()
	require.Equal(k.t, unique, hdr.Unique)
	require.Zero(k.t, hdr.Error)

	out, info := decode[cuseInitOut](body)
	require.Equal(k.t, "DEVNAME=dsp-test\x00", string(info))

	return out
}

func serve(t *testing.T, srv *Server) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx)
	}()

	t.Cleanup(cancel)

	return cancel, done
}

func TestServerInit(t *testing.T) {
	srv, k := newTestServer(t, &testOps{})
	serve(t, srv)

	out := k.handshake(36)
	assert.Equal(t, uint32(7), out.Major)
	assert.Equal(t, uint32(kernelMinorVersion), out.Minor)
	assert.Equal(t, uint32(cuseUnrestrictedIoctl), out.Flags)
	assert.Equal(t, uint32(4096), out.MaxWrite)
	assert.Equal(t, 72, int(unsafe.Sizeof(out)))
}

func TestServerInitOldKernel(t *testing.T) {
	srv, k := newTestServer(t, &testOps{})
	_, done := serve(t, srv)

	in := cuseInitIn{Major: 7, Minor: 8}
	k.send(opCuseInit, bytesOf(&in))

	hdr, _ := k.recv()
	assert.Equal(t, -int32(syscall.EPROTO), hdr.Error)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerRequests(t *testing.T) {
	ops := &testOps{}
	srv, k := newTestServer(t, ops)
	cancel, done := serve(t, srv)

	out := k.handshake(31)
	require.Equal(t, uint32(31), out.Minor)

	t.Run("Open", func(t *testing.T) {
		in := openIn{Flags: syscall.O_WRONLY}
		unique := k.send(opOpen, bytesOf(&in))

		hdr, body := k.recv()
		assert.Equal(t, unique, hdr.Unique)
		assert.Zero(t, hdr.Error)

		res, _ := decode[openOut](body)
		assert.Equal(t, uint64(7), res.Fh)
		assert.Equal(t, uint32(fopenDirectIO|fopenNonseekable), res.OpenFlags)

		in = openIn{Flags: syscall.O_RDONLY}
		k.send(opOpen, bytesOf(&in))

		hdr, _ = k.recv()
		assert.Equal(t, -int32(syscall.EACCES), hdr.Error)
	})

	t.Run("Write", func(t *testing.T) {
		data := bytes.Repeat([]byte{0xab}, 1000)
		in := writeIn{Fh: 7, Size: uint32(len(data))}
		k.send(opWrite, bytesOf(&in), data)

		hdr, body := k.recv()
		assert.Zero(t, hdr.Error)

		res, _ := decode[writeOut](body)
		assert.Equal(t, uint32(1000), res.Size)

		ops.mu.Lock()
		assert.Equal(t, data, ops.written)
		ops.writeErr = syscall.EPIPE
		ops.mu.Unlock()

		k.send(opWrite, bytesOf(&in), data)

		hdr, _ = k.recv()
		assert.Equal(t, -int32(syscall.EPIPE), hdr.Error)

		// Payload shorter than announced.
		k.send(opWrite, bytesOf(&in), data[:10])

		hdr, _ = k.recv()
		assert.Equal(t, -int32(syscall.EINVAL), hdr.Error)
	})

	t.Run("Ioctl", func(t *testing.T) {
		in := ioctlIn{Fh: 7, Cmd: 1, Arg: 0x7fff0000}
		k.send(opIoctl, bytesOf(&in))

		hdr, body := k.recv()
		require.Zero(t, hdr.Error)

		res, iovs := decode[ioctlOut](body)
		assert.Equal(t, uint32(ioctlRetry), res.Flags)
		assert.Equal(t, uint32(1), res.InIovs)
		assert.Equal(t, uint32(1), res.OutIovs)
		require.Len(t, iovs, 32)

		iov, rest := decode[Iovec](iovs)
		assert.Equal(t, Iovec{Base: 0x7fff0000, Len: 4}, iov)
		iov, _ = decode[Iovec](rest)
		assert.Equal(t, Iovec{Base: 0x7fff0000, Len: 4}, iov)

		in.InSize = 4
		in.OutSize = 4
		k.send(opIoctl, bytesOf(&in), binary.NativeEndian.AppendUint32(nil, 21))

		hdr, body = k.recv()
		require.Zero(t, hdr.Error)

		res, payload := decode[ioctlOut](body)
		assert.Zero(t, res.Flags)
		assert.Equal(t, uint32(42), binary.NativeEndian.Uint32(payload))

		in = ioctlIn{Fh: 7, Cmd: 2}
		k.send(opIoctl, bytesOf(&in))

		hdr, body = k.recv()
		require.Zero(t, hdr.Error)

		res, payload = decode[ioctlOut](body)
		assert.Equal(t, int32(5), res.Result)
		assert.Empty(t, payload)

		in = ioctlIn{Fh: 7, Cmd: 3}
		k.send(opIoctl, bytesOf(&in))

		hdr, _ = k.recv()
		assert.Equal(t, -int32(syscall.EINVAL), hdr.Error)
	})

	t.Run("Poll", func(t *testing.T) {
		in := pollIn{Fh: 7, Kh: 99, Flags: pollScheduleNotify}
		k.send(opPoll, bytesOf(&in))

		hdr, body := k.recv()
		require.Zero(t, hdr.Error)

		res, _ := decode[pollOut](body)
		assert.Equal(t, uint32(unix.POLLOUT), res.Revents)

		ops.mu.Lock()
		ph := ops.ph
		ops.mu.Unlock()

		require.NotNil(t, ph)
		assert.Equal(t, uint64(99), ph.Kh())
		require.NoError(t, ph.Notify())

		hdr, body = k.recv()
		assert.Zero(t, hdr.Unique)
		assert.Equal(t, int32(notifyPoll), hdr.Error)

		wake, _ := decode[notifyPollWakeupOut](body)
		assert.Equal(t, uint64(99), wake.Kh)

		// Without a schedule request no handle is passed.
		in.Flags = 0
		k.send(opPoll, bytesOf(&in))
		k.recv()

		ops.mu.Lock()
		assert.Nil(t, ops.ph)
		ops.mu.Unlock()
	})

	t.Run("Unsupported", func(t *testing.T) {
		for _, op := range []opcode{opRead, opFlush, opFsync, 9999} {
			unique := k.send(op, make([]byte, 16))

			hdr, _ := k.recv()
			assert.Equal(t, unique, hdr.Unique)
			assert.Equal(t, -int32(syscall.ENOSYS), hdr.Error, op.String())
		}

		// Interrupts are not answered.
		k.send(opInterrupt, make([]byte, 8))
		k.expectNone()
	})

	t.Run("Release", func(t *testing.T) {
		in := releaseIn{Fh: 7}
		unique := k.send(opRelease, bytesOf(&in))

		hdr, body := k.recv()
		assert.Equal(t, unique, hdr.Unique)
		assert.Zero(t, hdr.Error)
		assert.Empty(t, body)

		ops.mu.Lock()
		assert.Equal(t, []uint64{7}, ops.released)
		ops.mu.Unlock()
	})

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerKernelGone(t *testing.T) {
	srv, k := newTestServer(t, &testOps{})
	_, done := serve(t, srv)

	k.handshake(31)
	require.NoError(t, k.file.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestErrno(t *testing.T) {
	assert.Equal(t, syscall.EBUSY, Errno(syscall.EBUSY))
	assert.Equal(t, syscall.EIO, Errno(os.ErrNotExist))
	assert.Equal(t, "IOCTL", opIoctl.String())
	assert.Equal(t, "UNKNOWN", opcode(1234).String())
}
