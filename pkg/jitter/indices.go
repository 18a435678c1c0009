package jitter

import "sync/atomic"

// ringIndices holds the two plain offsets (each touched by exactly one
// of the writer/reader goroutines) and the two cross-goroutine
// counters (touched by both) described in spec.md §4.2. written is
// published with release-store semantics by the writer at the end of
// each record and observed with acquire-load by the reader; Go's
// atomic.Int64 gives both for free on every supported architecture.
type ringIndices struct {
	cap int

	readOffset  int
	writeOffset int

	written         atomic.Int64
	writtenElements atomic.Int64
}

func newRingIndices(cap int) *ringIndices {
	return &ringIndices{cap: cap}
}

func (r *ringIndices) mod(v int) int {
	v %= r.cap
	if v < 0 {
		v += r.cap
	}
	return v
}

// ForwardWrite advances write_offset and written by n bytes. Called by
// the writer once a record's header and payload are fully written;
// this is the publication point the reader's written.Load() acquires.
func (r *ringIndices) ForwardWrite(n int) {
	r.writeOffset = r.mod(r.writeOffset + n)
	r.written.Add(int64(n))
}

// UnwindWrite reverses a ForwardWrite that hasn't been published yet.
func (r *ringIndices) UnwindWrite(n int) {
	r.written.Add(-int64(n))
	r.writeOffset = r.mod(r.writeOffset - n)
}

func (r *ringIndices) ForwardRead(n int) {
	r.readOffset = r.mod(r.readOffset + n)
	r.written.Add(-int64(n))
}

func (r *ringIndices) UnwindRead(n int) {
	r.written.Add(int64(n))
	r.readOffset = r.mod(r.readOffset - n)
}
