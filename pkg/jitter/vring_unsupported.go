//go:build !linux

package jitter

import "fmt"

// virtualRing has no double-mapping implementation outside linux; see
// spec.md §4.1's platform strategy and JitterBuffer.hh's own
// `#else throw std::runtime_error("No virtual memory implementation")`
// branch, which this mirrors as a constructor-time ErrResourceExhaustion
// instead of a panic.
type virtualRing struct {
	mem []byte
	cap int
}

func newVirtualRing(int) (*virtualRing, error) {
	return nil, fmt.Errorf("%w: no virtual-memory double-mapping implementation for this platform", ErrResourceExhaustion)
}

func (r *virtualRing) Cap() int      { return r.cap }
func (r *virtualRing) Bytes() []byte { return r.mem }
func (r *virtualRing) Close() error  { return nil }
