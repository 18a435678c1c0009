package jitter

import "sync/atomic"

// Metrics are the cumulative counters the buffer reports.
type Metrics struct {
	ConcealedFrames    uint64
	SkippedFrames      uint64
	FilledPackets      uint64
	UpdatedFrames      uint64
	UpdateMissedFrames uint64
}

// metrics holds the atomic counters backing a Metrics snapshot.
// skippedFrames is touched by the reader only but is read cross-thread
// by GetMetrics, hence atomic; the rest are writer-thread-only but
// kept atomic too since GetMetrics may race with Enqueue/Prepare.
type metrics struct {
	concealedFrames    atomic.Uint64
	skippedFrames      atomic.Uint64
	filledPackets      atomic.Uint64
	updatedFrames      atomic.Uint64
	updateMissedFrames atomic.Uint64
}

func (m *metrics) snapshot() Metrics {
	return Metrics{
		ConcealedFrames:    m.concealedFrames.Load(),
		SkippedFrames:      m.skippedFrames.Load(),
		FilledPackets:      m.filledPackets.Load(),
		UpdatedFrames:      m.updatedFrames.Load(),
		UpdateMissedFrames: m.updateMissedFrames.Load(),
	}
}
