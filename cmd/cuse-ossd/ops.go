package main

import (
	"github.com/gen2brain/oss"
	"github.com/gen2brain/oss/cuse"
)

// ops serves the file operations of the device node from an emulated device.
type ops struct {
	dev *oss.Device
}

var _ cuse.Ops = (*ops)(nil)

func (o *ops) Open(h *cuse.Header, flags uint32) (uint64, error) {
	return o.dev.Open(flags, h.PID)
}

func (o *ops) Write(_ *cuse.Header, fh uint64, data []byte, flags uint32) (int, error) {
	return o.dev.Write(fh, data, flags)
}

func (o *ops) Ioctl(_ *cuse.Header, fh uint64, in *cuse.IoctlIn) (*cuse.IoctlOut, error) {
	reply, err := o.dev.Ioctl(fh, &oss.IoctlRequest{
		Cmd:     in.Cmd,
		Arg:     in.Arg,
		In:      in.In,
		OutSize: int(in.OutSize),
	})
	if err != nil {
		return nil, err
	}

	out := &cuse.IoctlOut{Retry: reply.Retry, Out: reply.Out}

	for _, iov := range reply.InIov {
		out.InIovs = append(out.InIovs, cuse.Iovec(iov))
	}

	for _, iov := range reply.OutIov {
		out.OutIovs = append(out.OutIovs, cuse.Iovec(iov))
	}

	return out, nil
}

func (o *ops) Poll(_ *cuse.Header, fh uint64, ph *cuse.PollHandle) (uint32, error) {
	// A nil *cuse.PollHandle must not become a non-nil interface.
	var handle oss.PollHandle
	if ph != nil {
		handle = ph
	}

	return o.dev.Poll(fh, handle)
}

func (o *ops) Release(_ *cuse.Header, fh uint64) error {
	return o.dev.Release(fh)
}
