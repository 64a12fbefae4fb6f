//go:build !linux && !darwin

package governor

import "errors"

func physicalMemory() (uint64, error) {
	return 0, errors.New("physical memory size unavailable on this platform")
}
