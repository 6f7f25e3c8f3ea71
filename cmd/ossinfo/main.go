package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gen2brain/oss"
)

var capNames = []struct {
	bit  int32
	name string
}{
	{oss.DSP_CAP_DUPLEX, "DUPLEX"},
	{oss.DSP_CAP_REALTIME, "REALTIME"},
	{oss.DSP_CAP_BATCH, "BATCH"},
	{oss.DSP_CAP_COPROC, "COPROC"},
	{oss.DSP_CAP_TRIGGER, "TRIGGER"},
	{oss.DSP_CAP_MMAP, "MMAP"},
	{oss.DSP_CAP_MULTI, "MULTI"},
}

func main() {
	var device string

	flag.StringVar(&device, "device", oss.DefaultPath, "The DSP device node.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays information about an OSS DSP device.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	// Non-blocking so that a device with no free stream does not hang the query.
	dsp, err := oss.OpenDSP(device, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dsp.Close()

	fmt.Printf("DSP device %s:\n", device)

	if v, err := dsp.Version(); err == nil {
		fmt.Printf("  Version:     %d.%d.%d\n", v>>16, (v>>8)&0xff, (v>>4)&0xf)
	} else {
		fmt.Printf("  Version:     %v\n", err)
	}

	if c, err := dsp.Caps(); err == nil {
		fmt.Printf("  Caps:        %s (revision %d)\n", capString(c), c&oss.DSP_CAP_REVISION)
	} else {
		fmt.Printf("  Caps:        %v\n", err)
	}

	if f, err := dsp.Formats(); err == nil {
		fmt.Printf("  Formats:     %s\n", formatString(f))
	} else {
		fmt.Printf("  Formats:     %v\n", err)
	}

	if n, err := dsp.BlockSize(); err == nil {
		fmt.Printf("  Block size:  %d\n", n)
	} else {
		fmt.Printf("  Block size:  %v\n", err)
	}

	if info, err := dsp.OSpace(); err == nil {
		fmt.Printf("  Space:       %d/%d fragments of %d bytes, %d bytes free\n", info.Fragments, info.FragsTotal, info.FragSize, info.Bytes)
	} else {
		fmt.Printf("  Space:       %v\n", err)
	}

	if info, err := dsp.OPtr(); err == nil {
		fmt.Printf("  Position:    %d bytes, %d blocks, ptr %d\n", info.Bytes, info.Blocks, info.Ptr)
	} else {
		fmt.Printf("  Position:    %v\n", err)
	}

	if n, err := dsp.ODelay(); err == nil {
		fmt.Printf("  Delay:       %d bytes\n", n)
	} else {
		fmt.Printf("  Delay:       %v\n", err)
	}

	if l, r, err := dsp.PlayVolume(); err == nil {
		fmt.Printf("  Play volume: %d%% / %d%%\n", l, r)
	} else {
		fmt.Printf("  Play volume: %v\n", err)
	}
}

func capString(c int32) string {
	var names []string

	for _, n := range capNames {
		if c&n.bit != 0 {
			names = append(names, n.name)
		}
	}

	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, " ")
}

func formatString(mask oss.Format) string {
	var names []string

	for f, name := range oss.FormatNames {
		if mask&f != 0 {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return "none"
	}

	// Map order is random.
	slices.Sort(names)

	return strings.Join(names, " ")
}
