package governor

import (
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
)

// Sample is one heap measurement.
type Sample struct {
	HeapInUse uint64
	Limit     uint64
}

// Utilization returns heap in use as a percentage of the limit.
func (s Sample) Utilization() float64 {
	if s.Limit == 0 {
		return 0
	}
	return float64(s.HeapInUse) * 100 / float64(s.Limit)
}

// Sampler measures heap usage.
type Sampler interface {
	Sample() (Sample, error)
}

// RuntimeSampler reads the Go runtime's heap statistics. The limit is the
// soft memory limit (GOMEMLIMIT) when one is set, otherwise MaxHeapBytes,
// otherwise the machine's physical memory.
type RuntimeSampler struct {
	MaxHeapBytes uint64
}

// Sample implements Sampler.
func (s RuntimeSampler) Sample() (Sample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	limit, err := s.limit()
	if err != nil {
		return Sample{}, err
	}
	return Sample{HeapInUse: ms.HeapInuse, Limit: limit}, nil
}

func (s RuntimeSampler) limit() (uint64, error) {
	// A negative argument only reads the current limit.
	if l := debug.SetMemoryLimit(-1); l > 0 && l != math.MaxInt64 {
		return uint64(l), nil
	}
	if s.MaxHeapBytes > 0 {
		return s.MaxHeapBytes, nil
	}
	total, err := physicalMemory()
	if err != nil {
		return 0, fmt.Errorf("reading physical memory: %w", err)
	}
	return total, nil
}
