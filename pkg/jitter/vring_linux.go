//go:build linux

package jitter

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// virtualRing is a cap-byte region for which the cap bytes immediately
// following are a second mapping of the same physical pages (spec.md
// §4.1, the "double-map" trick). Any offset in [0, cap) can serve as
// the start of a read or write of up to cap contiguous bytes without
// splitting the copy.
//
// Construction follows the "anonymous shared file descriptor"
// strategy: a memfd (or, where unavailable, an unlinked temp file) is
// sized to cap bytes, 2*cap of address space is reserved, and the
// descriptor is mapped twice into that reservation with MAP_FIXED.
type virtualRing struct {
	mem []byte // length 2*cap; mem[cap:] aliases the same pages as mem[:cap]
	cap int
	fd  int
}

func newVirtualRing(capBytes int) (*virtualRing, error) {
	pageSize := unix.Getpagesize()
	if r := capBytes % pageSize; r != 0 {
		capBytes += pageSize - r
	}

	fd, err := createAnonymousFD(capBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: create backing store: %v", ErrResourceExhaustion, err)
	}

	reservation, err := unix.Mmap(-1, 0, 2*capBytes, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: reserve address space: %v", ErrResourceExhaustion, err)
	}

	base := uintptr(unsafe.Pointer(&reservation[0]))
	if err := mmapFixed(base, capBytes, fd); err != nil {
		_ = unix.Munmap(reservation)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: map first half: %v", ErrResourceExhaustion, err)
	}
	if err := mmapFixed(base+uintptr(capBytes), capBytes, fd); err != nil {
		_ = unix.Munmap(reservation)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: map second half: %v", ErrResourceExhaustion, err)
	}

	return &virtualRing{mem: reservation, cap: capBytes, fd: fd}, nil
}

// mmapFixed maps fd at the exact address addr, aliasing whatever is
// already mapped there via the shared backing file. unix.Mmap doesn't
// expose MAP_FIXED with a caller-chosen address, so this goes through
// the raw syscall the same way the wrapper itself would.
func mmapFixed(addr uintptr, length int, fd int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func createAnonymousFD(size int) (int, error) {
	fd, err := unix.MemfdCreate("libjitter-ring", 0)
	if err != nil {
		// Older kernels or sandboxes without memfd_create: fall back to
		// an unlinked regular file.
		f, ferr := os.CreateTemp("", "libjitter-ring")
		if ferr != nil {
			return -1, ferr
		}
		defer f.Close()
		_ = os.Remove(f.Name())
		dup, derr := unix.Dup(int(f.Fd()))
		if derr != nil {
			return -1, derr
		}
		fd = dup
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (r *virtualRing) Cap() int { return r.cap }

// Bytes returns the full double-length backing slice. Offsets in
// [0, cap) are valid starting points for reads/writes of up to cap
// contiguous bytes.
func (r *virtualRing) Bytes() []byte { return r.mem }

func (r *virtualRing) Close() error {
	err := unix.Munmap(r.mem)
	if cerr := unix.Close(r.fd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
