package jitter

import (
	"sync/atomic"
	"unsafe"
)

// header is the fixed record prefix described by spec.md §3. It is
// never allocated on its own: headerAt overlays it directly onto the
// ring's backing bytes, the same way markrussinovich-grpc-go-shmem's
// ShmRing overlays its RingHeader onto mmapped memory. inUse is the
// single-bit spinlock-style flag mediating writer-update vs reader
// races; it is mutated only through sync/atomic on this exact memory,
// never copied out and written back.
//
// element_size is expected to be a multiple of 4 bytes so that every
// record boundary, and therefore every header's inUse field, lands on
// a 4-byte-aligned offset — sync/atomic requires this on strict
// architectures. The original C implementation this was distilled
// from makes the same unstated assumption.
type header struct {
	sequenceNumber   uint32
	concealment      uint32
	elements         uint64
	timestamp        uint64
	previousElements uint64
	inUse            uint32
	_                uint32
}

// headerSize is the fixed size of a record prefix, spec.md's H.
const headerSize = int(unsafe.Sizeof(header{}))

// headerAt overlays a *header onto ring bytes starting at offset.
// offset must leave at least headerSize bytes before the end of the
// slice, which VirtualRing's double mapping guarantees for any offset
// in [0, cap).
func headerAt(ring []byte, offset int) *header {
	return (*header)(unsafe.Pointer(&ring[offset]))
}

// tryAcquire attempts to set inUse, returning true if it was already
// held by someone else (test-and-set semantics matching
// std::atomic_flag::test_and_set).
func (h *header) tryAcquire() (alreadySet bool) {
	return !atomic.CompareAndSwapUint32(&h.inUse, 0, 1)
}

func (h *header) release() {
	atomic.StoreUint32(&h.inUse, 0)
}
