//go:build linux

package sysinfo

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// residentBytes reads the current RSS from /proc/self/statm, falling back to
// the peak reported by getrusage.
func residentBytes() (uint64, error) {
	if raw, err := os.ReadFile("/proc/self/statm"); err == nil {
		fields := bytes.Fields(raw)
		if len(fields) >= 2 {
			pages, err := strconv.ParseUint(string(fields[1]), 10, 64)
			if err == nil {
				return pages * uint64(unix.Getpagesize()), nil
			}
		}
	}

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, fmt.Errorf("getrusage: %w", err)
	}
	// Linux reports ru_maxrss in kilobytes.
	return uint64(ru.Maxrss) * 1024, nil
}
