package jitter

import "errors"

// ErrInvalidArgument is returned when construction parameters or call
// arguments are malformed. New and Dequeue have no effect when they
// return it; Enqueue keeps the packets, and the gap concealment, it
// wrote before reaching the offending packet, and reports their
// element count alongside the error.
var ErrInvalidArgument = errors.New("jitter: invalid argument")

// ErrResourceExhaustion is returned when the virtual-memory mapping
// backing the ring could not be created. Any partial state from the
// attempt is unwound before this is returned.
var ErrResourceExhaustion = errors.New("jitter: resource exhaustion")
