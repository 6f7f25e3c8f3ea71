package oss

import (
	"time"
)

// StreamID identifies a hardware stream of a Transport.
type StreamID int

// StreamMaster is the sentinel for "no hardware stream". Volume requests addressed to it act on
// the master volume of the device.
const StreamMaster StreamID = -1

// Volume is a volume level in the native units of the hardware (1/256 dB for USB audio).
type Volume int

// VolumeMute is the native value that silences the output.
const VolumeMute Volume = -0x8000

// StreamDesc describes the format of a hardware stream.
//
// When returned by Transport.StreamDescs, SampleRate is non-zero only if the hardware supports a
// single fixed rate; otherwise SampleRateMin and SampleRateMax bound the supported range.
type StreamDesc struct {
	SampleRate    uint32
	SampleRateMin uint32
	SampleRateMax uint32
	Channels      uint32
	Bits          uint32
	FragmentSize  uint32 // In bytes.
	BufferSize    uint32 // In bytes.
}

// VolumeInfo is the result of a volume query.
type VolumeInfo struct {
	Current Volume
	Min     Volume
	Max     Volume
}

// Transport is the hardware audio transport a Device multiplexes its clients onto.
//
// Implementations must be safe for concurrent use: writes on one stream may block while other
// streams are opened, queried or closed.
type Transport interface {
	// NumStreams returns how many hardware streams can be open at the same time.
	NumStreams() int

	// FindAvailableStream returns a hardware stream that is not open.
	FindAvailableStream() (StreamID, error)

	// StreamDescs returns the formats a hardware stream supports.
	StreamDescs(id StreamID) ([]StreamDesc, error)

	// OpenStream opens a hardware stream with the given format.
	OpenStream(id StreamID, desc StreamDesc) error

	// CloseStream closes a hardware stream. Closing StreamMaster is a no-op.
	CloseStream(id StreamID) error

	// Write submits audio data and returns the number of bytes accepted.
	// It may block until buffer space is available.
	Write(id StreamID, p []byte) (int, error)

	// WriteAvail returns the number of bytes that can be written without blocking.
	WriteAvail(id StreamID) int

	// CurrentLatency returns how long it takes for data written now to be played.
	CurrentLatency(id StreamID) (time.Duration, error)

	// Volume queries the volume of a stream, or the master volume for StreamMaster.
	Volume(id StreamID, timeout time.Duration) (VolumeInfo, error)

	// SetVolume sets the volume of a stream, or the master volume for StreamMaster.
	SetVolume(id StreamID, vol Volume, timeout time.Duration) error

	// SetWriteNotification registers fn to be called, from any goroutine, whenever buffer space
	// of the stream increases. A nil fn removes the notification.
	SetWriteNotification(id StreamID, fn func()) error

	// Close releases the transport.
	Close() error
}
