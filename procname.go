package oss

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

const unknownProcess = "Unknown"

// procRoot is where process information is read from.
var procRoot = "/proc"

// processName returns the command of a process, as found in its cmdline.
func processName(pid uint32) string {
	if pid == 0 {
		return unknownProcess
	}

	data, err := os.ReadFile(filepath.Join(procRoot, strconv.FormatUint(uint64(pid), 10), "cmdline"))
	if err != nil {
		return unknownProcess
	}

	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}

	if len(data) == 0 {
		return unknownProcess
	}

	return string(data)
}
