package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/gen2brain/oss"
)

// source yields integer PCM samples of a decoded file.
type source interface {
	// PCMBuffer fills buf.Data and returns the number of samples (not frames) read.
	PCMBuffer(buf *audio.IntBuffer) (int, error)
	Duration() (time.Duration, error)
	Channels() int
	SampleRate() int
	BitDepth() int
}

// openSource picks a decoder by file extension.
func openSource(name string, r io.ReadSeeker) (source, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return newMP3Source(r)
	case ".wav", ".wave":
		return newWAVSource(r)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	}
}

type wavSource struct {
	*wav.Decoder
}

func newWAVSource(r io.ReadSeeker) (source, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	if d.WavAudioFormat != 1 {
		return nil, fmt.Errorf("WAV encoding %d is not integer PCM", d.WavAudioFormat)
	}

	return &wavSource{Decoder: d}, nil
}

func (w *wavSource) Channels() int   { return int(w.NumChans) }
func (w *wavSource) SampleRate() int { return int(w.Decoder.SampleRate) }
func (w *wavSource) BitDepth() int   { return int(w.Decoder.BitDepth) }

// mp3Source always decodes to 16-bit stereo.
type mp3Source struct {
	d   *mp3.Decoder
	raw []byte
}

func newMP3Source(r io.Reader) (source, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("invalid MP3 file: %w", err)
	}

	return &mp3Source{d: d}, nil
}

func (m *mp3Source) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	if cap(m.raw) < 2*len(buf.Data) {
		m.raw = make([]byte, 2*len(buf.Data))
	}

	b := m.raw[:2*len(buf.Data)]

	n, err := io.ReadFull(m.d, b)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	for i := 0; i < n/2; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(b[2*i:])))
	}

	return n / 2, err
}

func (m *mp3Source) Duration() (time.Duration, error) {
	frames := m.d.Length() / 4
	if frames <= 0 {
		return 0, errors.New("unknown length")
	}

	return time.Duration(frames * int64(time.Second) / int64(m.d.SampleRate())), nil
}

func (m *mp3Source) Channels() int   { return 2 }
func (m *mp3Source) SampleRate() int { return m.d.SampleRate() }
func (m *mp3Source) BitDepth() int   { return 16 }

// pickFormat returns the device format closest to depth among the supported mask.
func pickFormat(depth int, supported oss.Format) (oss.Format, error) {
	prefer := []oss.Format{oss.AFMT_S16_LE, oss.AFMT_U8}
	if depth <= 8 {
		prefer = []oss.Format{oss.AFMT_U8, oss.AFMT_S16_LE}
	}

	for _, f := range prefer {
		if supported&f != 0 {
			return f, nil
		}
	}

	return 0, fmt.Errorf("device supports neither S16_LE nor U8 (mask %#x)", int32(supported))
}

// encode converts samples of the given depth to the device format, appending to dst.
func encode(dst []byte, samples []int, depth int, f oss.Format) []byte {
	for _, s := range samples {
		// Samples of 8-bit WAV files are already unsigned.
		if depth == 8 {
			s -= 0x80
		}

		switch {
		case depth > 16:
			s >>= depth - 16
		case depth < 16:
			s <<= 16 - depth
		}

		s = min(max(s, -32768), 32767)

		if f == oss.AFMT_U8 {
			dst = append(dst, byte(s>>8)+0x80)
		} else {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(s)))
		}
	}

	return dst
}
