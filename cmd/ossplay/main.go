package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"

	"github.com/gen2brain/oss"
)

func main() {
	var (
		device    string
		fragments uint
		fragShift uint
		rate      int
		volume    int
	)

	flag.StringVar(&device, "device", oss.DefaultPath, "The DSP device node")
	flag.UintVar(&fragments, "fragments", 0, "The number of fragments (0 = device default)")
	flag.UintVar(&fragShift, "fragment-shift", 12, "The fragment size as a power of two")
	flag.IntVar(&rate, "rate", 0, "The sample rate to request (0 = use the file's rate)")
	flag.IntVar(&volume, "volume", -1, "The play volume in percent (-1 = leave unchanged)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-or-mp3-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"device", "fragments", "fragment-shift", "rate", "volume"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	path := flag.Arg(0)

	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	src, err := openSource(path, file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", path, err)
		os.Exit(1)
	}

	dsp, err := oss.OpenDSP(device, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dsp.Close()

	if fragments > 0 {
		if err := dsp.SetFragment(uint32(fragments), uint32(fragShift)); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting fragments: %v\n", err)
			os.Exit(1)
		}
	}

	if rate == 0 {
		rate = src.SampleRate()
	}

	format, channels, rate, err := configure(dsp, src, rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring device: %v\n", err)
		os.Exit(1)
	}

	if volume >= 0 {
		if _, _, err := dsp.SetPlayVolume(volume, volume); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to set volume: %v\n", err)
		}
	}

	blksize, err := dsp.BlockSize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading block size: %v\n", err)
		os.Exit(1)
	}

	duration, _ := src.Duration()

	fmt.Printf("Playing: %s (%v)\n", path, duration.Round(time.Millisecond))
	fmt.Printf("Device: %s\n", device)
	fmt.Printf("Configuration: %d channels, %d Hz, %s, block %d bytes\n", channels, rate, oss.FormatNames[format], blksize)

	if rate != src.SampleRate() {
		fmt.Printf("Note: device plays at %d Hz, file is %d Hz\n", rate, src.SampleRate())
	}

	start := time.Now()

	written, err := play(dsp, src, format, blksize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to device: %v\n", err)
		os.Exit(1)
	}

	if err := dsp.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Error draining device: %v\n", err)
	}

	fmt.Printf("Playback finished in %v. (%d bytes written)\n", time.Since(start).Round(time.Millisecond), written)
}

// configure sets format, channels and rate in the order OSS applications use.
func configure(dsp *oss.DSP, src source, rate int) (oss.Format, int, int, error) {
	mask, err := dsp.Formats()
	if err != nil {
		return 0, 0, 0, err
	}

	want, err := pickFormat(src.BitDepth(), mask)
	if err != nil {
		return 0, 0, 0, err
	}

	format, err := dsp.SetFormat(want)
	if err != nil {
		return 0, 0, 0, err
	}

	if format != want {
		return 0, 0, 0, fmt.Errorf("device chose format %#x", int32(format))
	}

	channels, err := dsp.SetChannels(src.Channels())
	if err != nil {
		return 0, 0, 0, err
	}

	if channels != src.Channels() {
		return 0, 0, 0, fmt.Errorf("device does not play %d channels", src.Channels())
	}

	rate, err = dsp.SetSpeed(rate)
	if err != nil {
		return 0, 0, 0, err
	}

	return format, channels, rate, nil
}

// play copies the decoded file to the device in blocks of blksize bytes.
func play(dsp *oss.DSP, src source, format oss.Format, blksize int) (int, error) {
	bytesPerSample := int(oss.FormatBits(format) / 8)

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: src.Channels(), SampleRate: src.SampleRate()},
		Data:   make([]int, max(blksize/bytesPerSample, src.Channels())),
	}

	var (
		out     []byte
		written int
	)

	for {
		n, err := src.PCMBuffer(buf)
		if n > 0 {
			// Whole frames only.
			n -= n % src.Channels()

			out = encode(out[:0], buf.Data[:n], src.BitDepth(), format)

			w, werr := dsp.Write(out)
			written += w

			if werr != nil {
				return written, werr
			}
		}

		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			return written, nil
		}

		if err != nil {
			return written, fmt.Errorf("failed to decode: %w", err)
		}
	}
}
