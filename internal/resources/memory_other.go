//go:build !linux

package resources

import "github.com/GenomiqueENS/aozan/internal/constants"

func getAvailableMemory() uint64 {
	return constants.FallbackAvailableMemory
}
