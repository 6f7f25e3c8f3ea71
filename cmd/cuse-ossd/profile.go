package main

import (
	"github.com/pkg/profile"
)

// startProfile starts writing a profile of the given kind to the working directory.
func startProfile(kind string) interface{ Stop() } {
	mode := profile.CPUProfile

	switch kind {
	case "mem":
		mode = profile.MemProfile
	case "block":
		mode = profile.BlockProfile
	}

	return profile.Start(mode, profile.ProfilePath("."), profile.NoShutdownHook)
}
