package jitter

// Listener receives best-effort notifications about buffer state
// transitions that Metrics alone can't express as a point-in-time
// event: loss, concealment, and playout gating. All methods are
// called synchronously from the Enqueue/Dequeue goroutine that
// triggered them, so implementations must not block or call back into
// the same JitterBuffer.
type Listener interface {
	// OnPacketLoss is called when Dequeue discards a record outright
	// because it aged past Config.MaxLength.
	OnPacketLoss(sequenceNumber uint32, elements int)
	// OnPlayGateChanged is called once, the moment the play gate opens.
	OnPlayGateChanged(open bool)
	// OnConcealment is called after concealment records are
	// synthesized and handed to the caller's ConcealmentFunc.
	OnConcealment(firstSequenceNumber uint32, elements int)
}

// NullListener discards every notification. It is the default when a
// Config carries no Listener.
type NullListener struct{}

func (NullListener) OnPacketLoss(uint32, int) {}
func (NullListener) OnPlayGateChanged(bool)   {}
func (NullListener) OnConcealment(uint32, int) {}
