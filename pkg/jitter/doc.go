// Package jitter implements a single-producer/single-consumer jitter
// buffer for fixed-rate, packetized media.
//
// Packets are stored in a wraparound ring as back-to-back
// [header|payload] records. Gaps caused by loss are filled with
// concealment records that the caller fills synchronously through a
// callback; a later, in-window real packet can patch a concealment
// record's payload in place. The reader drains the ring at the
// playback clock, skipping records that have aged past max_length and
// withholding all output until the buffer has filled to its play
// gate.
//
// Exactly one goroutine may call Enqueue/Prepare, and exactly one
// (possibly different) goroutine may call Dequeue. GetCurrentDepth and
// GetMetrics may be called from any goroutine.
package jitter
