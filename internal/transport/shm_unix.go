//go:build unix

package transport

import (
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/termhost/internal/errors"
)

// mapFile maps size bytes of path read-write and shared. When create is set
// the file is created (or truncated) to size first.
func mapFile(path string, size int, create bool) ([]byte, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		// The other side may not have created the file yet.
		return nil, errors.NewTransportError("open buffer", err).WithHandle(path).
			WithRetryable(errors.Is(err, fs.ErrNotExist))
	}
	defer f.Close()

	if create {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, errors.NewTransportError("size buffer", err).WithHandle(path)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			return nil, errors.NewTransportError("stat buffer", err).WithHandle(path)
		}
		size = int(info.Size())
	}
	if size <= 0 {
		return nil, errors.NewTransportError("empty buffer", errors.ErrBufferHandle).WithHandle(path)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.NewTransportError("mmap buffer", err).WithHandle(path)
	}
	return mem, nil
}

// CreateRing creates a shared ring of the given capacity backed by path.
func CreateRing(path string, capacity int) (*Ring, error) {
	mem, err := mapFile(path, HeaderSize+capacity, true)
	if err != nil {
		return nil, err
	}
	r, err := attachRing(mem, true)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	r.unmap = func() error { return unix.Munmap(mem) }
	return r, nil
}

// OpenRing maps an existing ring created by CreateRing, possibly in another
// process.
func OpenRing(path string) (*Ring, error) {
	mem, err := mapFile(path, 0, false)
	if err != nil {
		return nil, err
	}
	r, err := attachRing(mem, false)
	if err != nil {
		unix.Munmap(mem)
		var te *errors.TransportError
		if errors.As(err, &te) {
			te.WithHandle(path)
		}
		return nil, err
	}
	r.unmap = func() error { return unix.Munmap(mem) }
	return r, nil
}

// CreateSignal creates a shared signal counter backed by path.
func CreateSignal(path string) (*Signal, error) {
	mem, err := mapFile(path, signalSize, true)
	if err != nil {
		return nil, err
	}
	s := attachSignal(mem)
	s.seq.Store(0)
	s.unmap = func() error { return unix.Munmap(mem) }
	return s, nil
}

// OpenSignal maps an existing signal counter.
func OpenSignal(path string) (*Signal, error) {
	mem, err := mapFile(path, 0, false)
	if err != nil {
		return nil, err
	}
	if len(mem) < 8 {
		unix.Munmap(mem)
		return nil, errors.NewTransportError(fmt.Sprintf("signal region of %d bytes", len(mem)), errors.ErrBufferHandle).WithHandle(path)
	}
	s := attachSignal(mem)
	s.unmap = func() error { return unix.Munmap(mem) }
	return s, nil
}
