// Package transport implements the zero-copy output path from the host to the
// UI process: fixed-capacity single-producer single-consumer ring buffers
// ("shards") carrying framed packets, a shared wake-up counter, and an
// optional low-priority ring for a secondary analysis consumer.
//
// Rings live either in shared memory (files mapped with mmap, see
// CreateRing/OpenRing) or on the Go heap (NewRing). The layout is the same in
// both cases:
//
//	offset 0    write cursor  u64  (producer-owned, monotonically increasing)
//	offset 64   read cursor   u64  (consumer-owned, monotonically increasing)
//	offset 128  capacity      u64
//	offset 136  magic         u32
//	offset 256  data          [capacity]byte
//
// Cursors count bytes ever written/read; the position in the data region is
// the cursor modulo capacity. The producer never overwrites unread bytes.
package transport

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/Iron-Ham/termhost/internal/errors"
)

const (
	// HeaderSize is the number of bytes reserved before the data region.
	HeaderSize = 256

	writeOffset    = 0
	readOffset     = 64
	capacityOffset = 128
	magicOffset    = 136

	ringMagic uint32 = 0x52494e47 // "RING"
)

// Ring is one shard: a circular byte region with atomic cursors.
// Write may only be called by one goroutine and Read by one (possibly other)
// goroutine or process.
type Ring struct {
	mem   []byte
	data  []byte
	size  uint64
	write *atomic.Uint64
	read  *atomic.Uint64
	unmap func() error
}

// NewRing allocates a heap-backed ring with the given data capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic("transport: ring capacity must be positive")
	}
	// Back the region with uint64 words so the cursor fields are 8-byte aligned.
	words := make([]uint64, (HeaderSize+capacity+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:HeaderSize+capacity]
	r, err := attachRing(mem, true)
	if err != nil {
		panic(err)
	}
	return r
}

// attachRing wraps mem. When initialize is true the header is written,
// otherwise it is validated.
func attachRing(mem []byte, initialize bool) (*Ring, error) {
	if len(mem) <= HeaderSize {
		return nil, errors.NewTransportError(fmt.Sprintf("region of %d bytes is too small", len(mem)), errors.ErrBufferHandle)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, errors.NewTransportError("region is not 8-byte aligned", errors.ErrBufferHandle)
	}
	capacity := uint64(len(mem) - HeaderSize)
	r := &Ring{
		mem:   mem,
		data:  mem[HeaderSize:],
		size:  capacity,
		write: (*atomic.Uint64)(unsafe.Pointer(&mem[writeOffset])),
		read:  (*atomic.Uint64)(unsafe.Pointer(&mem[readOffset])),
	}
	if initialize {
		r.write.Store(0)
		r.read.Store(0)
		binary.LittleEndian.PutUint64(mem[capacityOffset:], capacity)
		binary.LittleEndian.PutUint32(mem[magicOffset:], ringMagic)
		return r, nil
	}
	if got := binary.LittleEndian.Uint32(mem[magicOffset:]); got != ringMagic {
		return nil, errors.NewTransportError(fmt.Sprintf("bad magic %#x", got), errors.ErrBufferHandle)
	}
	if got := binary.LittleEndian.Uint64(mem[capacityOffset:]); got != capacity {
		return nil, errors.NewTransportError(fmt.Sprintf("header capacity %d does not match region %d", got, capacity), errors.ErrBufferHandle)
	}
	return r, nil
}

// Cap returns the data capacity in bytes.
func (r *Ring) Cap() int {
	return int(r.size)
}

// Len returns the number of unread bytes.
func (r *Ring) Len() int {
	return int(r.write.Load() - r.read.Load())
}

// Free returns the number of bytes that can be written without overwriting
// unread data.
func (r *Ring) Free() int {
	return int(r.size) - r.Len()
}

// Utilization returns the unread share of the ring as a percentage (0-100).
func (r *Ring) Utilization() float64 {
	return float64(r.Len()) * 100 / float64(r.size)
}

// Write copies p into the ring as a unit. It returns len(p), or 0 when p does
// not fit in the free space; a partial write never happens.
func (r *Ring) Write(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	w := r.write.Load()
	if uint64(len(p)) > r.size-(w-r.read.Load()) {
		return 0
	}
	off := w % r.size
	if n := copy(r.data[off:], p); n < len(p) {
		copy(r.data, p[n:])
	}
	// Publishing the cursor after the copy makes the bytes visible to the
	// consumer only once complete.
	r.write.Store(w + uint64(len(p)))
	return len(p)
}

// Read copies up to len(p) unread bytes into p and returns the count.
func (r *Ring) Read(p []byte) int {
	rd := r.read.Load()
	avail := r.write.Load() - rd
	if avail == 0 || len(p) == 0 {
		return 0
	}
	n := min(uint64(len(p)), avail)
	off := rd % r.size
	if c := copy(p[:n], r.data[off:]); uint64(c) < n {
		copy(p[c:n], r.data)
	}
	r.read.Store(rd + n)
	return int(n)
}

// Close releases the shared mapping, if any.
func (r *Ring) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap()
	r.unmap = nil
	return err
}
