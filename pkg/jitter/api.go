package jitter

import "time"

// Packet is the input and output value type for the jitter buffer. For
// concealment packets handed to a ConcealmentFunc, Data points into
// the ring itself and is only valid for the duration of the callback.
type Packet struct {
	SequenceNumber uint32
	Data           []byte
	Elements       int
}

// ConcealmentFunc is invoked synchronously by Enqueue/Prepare whenever
// a gap needs to be concealed. Each packet's Data slice points into
// caller-unowned ring memory of exactly Elements*Config.ElementSize
// bytes; the callback must fill it in place, must not retain Data
// beyond return, and must not call Enqueue/Dequeue/Prepare on the same
// buffer recursively.
type ConcealmentFunc func(packets []Packet)

// Config holds the fixed parameters of a JitterBuffer.
type Config struct {
	// ElementSize is the size, in bytes, of a single held element.
	ElementSize int
	// PacketElements is the number of elements in one real packet.
	PacketElements int
	// ClockRateHz is the clock rate of held elements, e.g. 48000 for
	// 48kHz audio.
	ClockRateHz uint32
	// MaxLength is the maximum buffered duration before a record is
	// discarded as stale on dequeue.
	MaxLength time.Duration
	// MinLength is the minimum buffered duration the play gate and the
	// fill-to-min policy target.
	MinLength time.Duration
	// StallOnMinLength reinstates the earlier per-record dequeue stall
	// dropped in favor of the coarser play gate (spec open question).
	StallOnMinLength bool
	// Now, if set, replaces time.Now as the buffer's clock source.
	// Exists for tests; production callers leave it nil.
	Now func() time.Time
	// Listener, if set, receives loss/gate/concealment notifications.
	// Defaults to NullListener.
	Listener Listener
}
