//go:build linux

package resources

import (
	"golang.org/x/sys/unix"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// getAvailableMemory returns the free plus buffered memory in bytes.
func getAvailableMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return constants.FallbackAvailableMemory
	}

	availableBytes := (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit)
	if availableBytes < constants.MinSystemMemory {
		availableBytes = constants.MinSystemMemory
	}
	return availableBytes
}
