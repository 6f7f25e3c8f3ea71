//go:build linux

// Package cuse implements a character device in userspace on top of the Linux CUSE kernel
// protocol. The server reads requests from /dev/cuse, dispatches them to a set of Ops on a
// pool of goroutines and writes the replies back.
package cuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// DevicePath is the CUSE control device.
const DevicePath = "/dev/cuse"

const (
	defaultMaxWrite = 128 * 1024
	defaultWorkers  = 16

	// Room for the request header and arguments in front of the write payload.
	headerRoom = 8 * 1024
)

// Config describes the device node to create.
type Config struct {
	Name     string // Device name, the node appears as /dev/<Name>.
	Major    uint32 // 0 lets the kernel pick.
	Minor    uint32
	MaxWrite uint32 // Largest write payload per request.
	Workers  int    // Requests handled concurrently.

	Logger *zerolog.Logger
}

// Header identifies the caller of a request.
type Header struct {
	Unique uint64
	UID    uint32
	GID    uint32
	PID    uint32
}

// Iovec names a region of the caller's memory.
type Iovec struct {
	Base uint64
	Len  uint64
}

// IoctlIn is an ioctl request. In the first phase In is empty and OutSize is zero.
type IoctlIn struct {
	Cmd     uint32
	Arg     uint64
	Flags   uint32
	In      []byte
	OutSize uint32
}

// IoctlOut is an ioctl reply. With Retry set the kernel repeats the request after
// transferring the regions named by InIovs and OutIovs.
type IoctlOut struct {
	Result  int32
	Retry   bool
	InIovs  []Iovec
	OutIovs []Iovec
	Out     []byte
}

// Ops are the file operations of the device. Methods are called concurrently.
// Returned errors carrying a syscall.Errno are passed to the caller; others become EIO.
type Ops interface {
	Open(h *Header, flags uint32) (fh uint64, err error)
	Write(h *Header, fh uint64, data []byte, flags uint32) (int, error)
	Ioctl(h *Header, fh uint64, in *IoctlIn) (*IoctlOut, error)
	// Poll returns the ready events. ph is nil unless the caller wants a wake-up.
	Poll(h *Header, fh uint64, ph *PollHandle) (uint32, error)
	Release(h *Header, fh uint64) error
}

// Server serves one CUSE device.
type Server struct {
	file   *os.File
	config Config
	ops    Ops
	log    zerolog.Logger

	bufPool sync.Pool

	closeOnce sync.Once
	closeErr  error
}

// Mount opens the CUSE control device and returns a server for a new device node.
// The node appears once Serve has completed the handshake.
func Mount(path string, config Config, ops Ops) (*Server, error) {
	if path == "" {
		path = DevicePath
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return NewServer(os.NewFile(uintptr(fd), path), config, ops)
}

// NewServer returns a server on an already open control file.
func NewServer(file *os.File, config Config, ops Ops) (*Server, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("device name is empty")
	}

	if config.MaxWrite == 0 {
		config.MaxWrite = defaultMaxWrite
	}

	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	s := &Server{
		file:   file,
		config: config,
		ops:    ops,
		log:    log,
	}

	bufSize := int(config.MaxWrite) + headerRoom
	s.bufPool.New = func() any {
		buf := make([]byte, bufSize)

		return &buf
	}

	return s, nil
}

// Close closes the control file, which removes the device node.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})

	return s.closeErr
}

// Serve performs the handshake and handles requests until ctx is done or the kernel
// drops the device.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	if err := s.init(); err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(s.config.Workers)

	err := s.loop(ctx, g)

	// Handlers may still be blocked in a write, their replies are dropped once the file is closed.
	_ = g.Wait()

	return err
}

func (s *Server) loop(ctx context.Context, g *errgroup.Group) error {
	for {
		bufp := s.bufPool.Get().(*[]byte)

		msg, err := s.read(*bufp)
		if err != nil {
			s.bufPool.Put(bufp)

			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}

			if errors.Is(err, syscall.ENODEV) {
				s.log.Info().Msg("device removed by the kernel")

				return nil
			}

			return err
		}

		work := func() error {
			defer s.bufPool.Put(bufp)
			s.handle(msg)

			return nil
		}

		if !g.TryGo(work) {
			s.log.Trace().Msg("all workers busy")
			g.Go(work)
		}
	}
}

// read reads one request, retrying the transient errors of the control device.
func (s *Server) read(buf []byte) ([]byte, error) {
	for {
		n, err := s.file.Read(buf)
		if err != nil {
			if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOENT) {
				continue
			}

			return nil, err
		}

		if n < inHeaderSize {
			s.log.Warn().Int("len", n).Msg("short read from control device")

			continue
		}

		return buf[:n], nil
	}
}

func (s *Server) init() error {
	buf := make([]byte, headerRoom)

	msg, err := s.read(buf)
	if err != nil {
		return fmt.Errorf("failed to read init request: %w", err)
	}

	hdr, body := decode[inHeader](msg)
	if hdr.Opcode != opCuseInit {
		return fmt.Errorf("unexpected first request %s (%d)", hdr.Opcode, hdr.Opcode)
	}

	in, _ := decode[cuseInitIn](body)

	if in.Major < kernelVersion || (in.Major == kernelVersion && in.Minor < minKernelMinorVersion) {
		_ = s.replyError(hdr.Unique, syscall.EPROTO)

		return fmt.Errorf("unsupported kernel protocol %d.%d", in.Major, in.Minor)
	}

	out := cuseInitOut{
		Major:    kernelVersion,
		Minor:    min(in.Minor, kernelMinorVersion),
		Flags:    cuseUnrestrictedIoctl,
		MaxRead:  s.config.MaxWrite,
		MaxWrite: s.config.MaxWrite,
		DevMajor: s.config.Major,
		DevMinor: s.config.Minor,
	}

	if in.Major > kernelVersion {
		// The kernel retries with our major.
		out = cuseInitOut{Major: kernelVersion}
	}

	info := append([]byte("DEVNAME="+s.config.Name), 0)

	if err := s.reply(hdr.Unique, 0, bytesOf(&out), info); err != nil {
		return fmt.Errorf("failed to reply to init: %w", err)
	}

	if in.Major > kernelVersion {
		return s.init()
	}

	s.log.Info().
		Str("name", s.config.Name).
		Uint32("major", s.config.Major).
		Uint32("minor", s.config.Minor).
		Str("protocol", fmt.Sprintf("%d.%d", out.Major, out.Minor)).
		Msg("cuse device initialized")

	return nil
}

func (s *Server) handle(msg []byte) {
	hdr, body := decode[inHeader](msg)
	h := &Header{Unique: hdr.Unique, UID: hdr.UID, GID: hdr.GID, PID: hdr.PID}

	if e := s.log.Trace(); e.Enabled() {
		e.Str("op", hdr.Opcode.String()).Uint64("unique", hdr.Unique).Uint32("pid", hdr.PID).Msg("request")
	}

	var err error

	switch hdr.Opcode {
	case opOpen:
		err = s.open(h, body)
	case opWrite:
		err = s.write(h, body)
	case opIoctl:
		err = s.ioctl(h, body)
	case opPoll:
		err = s.poll(h, body)
	case opRelease:
		err = s.release(h, body)
	case opInterrupt, opForget, opBatchForget:
		// No reply.
		return
	default:
		err = s.replyError(hdr.Unique, syscall.ENOSYS)
	}

	if err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Debug().Err(err).Str("op", hdr.Opcode.String()).Uint64("unique", hdr.Unique).Msg("failed to send reply")
	}
}

func (s *Server) open(h *Header, body []byte) error {
	in, _ := decode[openIn](body)

	fh, err := s.ops.Open(h, in.Flags)
	if err != nil {
		return s.replyError(h.Unique, err)
	}

	out := openOut{Fh: fh, OpenFlags: fopenDirectIO | fopenNonseekable}

	return s.reply(h.Unique, 0, bytesOf(&out))
}

func (s *Server) write(h *Header, body []byte) error {
	in, data := decode[writeIn](body)
	if uint32(len(data)) < in.Size {
		return s.replyError(h.Unique, syscall.EINVAL)
	}

	n, err := s.ops.Write(h, in.Fh, data[:in.Size], in.Flags)
	if err != nil {
		return s.replyError(h.Unique, err)
	}

	out := writeOut{Size: uint32(n)}

	return s.reply(h.Unique, 0, bytesOf(&out))
}

func (s *Server) ioctl(h *Header, body []byte) error {
	in, data := decode[ioctlIn](body)
	if uint32(len(data)) < in.InSize {
		return s.replyError(h.Unique, syscall.EINVAL)
	}

	req := &IoctlIn{
		Cmd:     in.Cmd,
		Arg:     in.Arg,
		Flags:   in.Flags,
		In:      data[:in.InSize],
		OutSize: in.OutSize,
	}

	if in.Flags&ioctlCompat != 0 {
		// 32-bit callers on a 64-bit kernel are not supported.
		return s.replyError(h.Unique, syscall.ENOSYS)
	}

	res, err := s.ops.Ioctl(h, in.Fh, req)
	if err != nil {
		return s.replyError(h.Unique, err)
	}

	if res.Retry {
		if len(res.InIovs)+len(res.OutIovs) > ioctlMaxIov {
			return s.replyError(h.Unique, syscall.ENOMEM)
		}

		out := ioctlOut{
			Flags:   ioctlRetry,
			InIovs:  uint32(len(res.InIovs)),
			OutIovs: uint32(len(res.OutIovs)),
		}

		parts := [][]byte{bytesOf(&out)}
		for i := range res.InIovs {
			parts = append(parts, bytesOf(&res.InIovs[i]))
		}

		for i := range res.OutIovs {
			parts = append(parts, bytesOf(&res.OutIovs[i]))
		}

		return s.reply(h.Unique, 0, parts...)
	}

	payload := res.Out
	if uint32(len(payload)) > in.OutSize {
		payload = payload[:in.OutSize]
	}

	out := ioctlOut{Result: res.Result}

	return s.reply(h.Unique, 0, bytesOf(&out), payload)
}

func (s *Server) poll(h *Header, body []byte) error {
	in, _ := decode[pollIn](body)

	var ph *PollHandle
	if in.Flags&pollScheduleNotify != 0 {
		ph = &PollHandle{server: s, kh: in.Kh}
	}

	revents, err := s.ops.Poll(h, in.Fh, ph)
	if err != nil {
		return s.replyError(h.Unique, err)
	}

	out := pollOut{Revents: revents}

	return s.reply(h.Unique, 0, bytesOf(&out))
}

func (s *Server) release(h *Header, body []byte) error {
	in, _ := decode[releaseIn](body)

	if err := s.ops.Release(h, in.Fh); err != nil {
		return s.replyError(h.Unique, err)
	}

	return s.reply(h.Unique, 0)
}

// reply writes a reply made of parts in a single write.
func (s *Server) reply(unique uint64, errno int32, parts ...[]byte) error {
	size := outHeaderSize
	for _, p := range parts {
		size += len(p)
	}

	hdr := outHeader{Len: uint32(size), Error: errno, Unique: unique}

	buf := make([]byte, 0, size)
	buf = append(buf, bytesOf(&hdr)...)

	for _, p := range parts {
		buf = append(buf, p...)
	}

	_, err := s.file.Write(buf)

	return err
}

func (s *Server) replyError(unique uint64, err error) error {
	return s.reply(unique, -int32(Errno(err)))
}

// Errno returns the errno carried by err, or EIO.
func Errno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return syscall.EIO
}

// PollHandle is a pending poll of a caller. Notify wakes the caller up.
type PollHandle struct {
	server *Server
	kh     uint64
}

// Notify wakes up the poller.
func (p *PollHandle) Notify() error {
	out := notifyPollWakeupOut{Kh: p.kh}

	// Notifications are replies with no request and the notification code as error.
	return p.server.reply(0, notifyPoll, bytesOf(&out))
}

// Destroy releases the handle. The kernel keeps no state for it.
func (p *PollHandle) Destroy() {}

// Kh returns the kernel handle of the poll.
func (p *PollHandle) Kh() uint64 {
	return p.kh
}
