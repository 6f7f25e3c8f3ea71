package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/gen2brain/oss"
)

func main() {
	var device string

	flag.StringVar(&device, "device", oss.DefaultPath, "The DSP device node to use.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [left [right]]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"device"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
		fmt.Fprintln(os.Stderr, "\nTo set the play volume, provide the level in percent for both channels or each one.")
		fmt.Fprintln(os.Stderr, "If no level is specified, the current play volume is shown.")
	}

	flag.Parse()

	args := flag.Args()
	if len(args) > 2 {
		flag.Usage()
		os.Exit(1)
	}

	levels, err := parseLevels(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	dsp, err := oss.OpenDSP(device, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dsp.Close()

	var left, right int

	if levels == nil {
		left, right, err = dsp.PlayVolume()
	} else {
		left, right, err = dsp.SetPlayVolume(levels[0], levels[1])
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d%% / %d%%\n", device, left, right)
}

// parseLevels returns the left and right levels, or nil when none are given.
func parseLevels(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, nil
	}

	levels := make([]int, 2)

	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q", arg)
		}

		if v < 0 || v > 100 {
			return nil, fmt.Errorf("level %d out of range 0-100", v)
		}

		levels[i] = v
	}

	if len(args) == 1 {
		levels[1] = levels[0]
	}

	return levels, nil
}
