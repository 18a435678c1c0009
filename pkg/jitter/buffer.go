package jitter

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// JitterBuffer is a single-producer/single-consumer ring of fixed-rate
// elements, each record tagged with a header (spec.md §3) that the
// writer and reader coordinate over via the record's inUse flag and
// the previousElements backlink chain. One JitterBuffer instance must
// only ever be driven by one writer goroutine and one reader goroutine
// at a time; nothing here is safe for concurrent Enqueue calls, nor
// for concurrent Dequeue calls.
type JitterBuffer struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	ring *virtualRing
	idx  *ringIndices

	hasLastWritten        bool
	lastWritten           uint32
	latestWrittenElements int

	dontWalkBeyond atomic.Uint32

	play atomic.Bool

	metrics metrics
}

// New allocates a JitterBuffer sized to hold Config.MaxLength of
// elements at Config.ClockRateHz, rounded up to a whole number of
// pages by the underlying virtual ring.
func New(cfg Config, logger Logger) (*JitterBuffer, error) {
	if cfg.ElementSize <= 0 {
		return nil, fmt.Errorf("%w: element size must be > 0", ErrInvalidArgument)
	}
	if cfg.PacketElements <= 0 {
		return nil, fmt.Errorf("%w: packet elements must be > 0", ErrInvalidArgument)
	}
	if cfg.ClockRateHz == 0 {
		return nil, fmt.Errorf("%w: clock rate must be > 0", ErrInvalidArgument)
	}
	if cfg.MaxLength <= 0 {
		return nil, fmt.Errorf("%w: max length must be > 0", ErrInvalidArgument)
	}
	if cfg.MinLength > cfg.MaxLength {
		return nil, fmt.Errorf("%w: min length must be <= max length", ErrInvalidArgument)
	}

	packetDuration := time.Duration(cfg.PacketElements) * time.Second / time.Duration(cfg.ClockRateHz)
	if packetDuration < time.Millisecond {
		return nil, fmt.Errorf("%w: packets must be at least 1ms long", ErrInvalidArgument)
	}

	if logger == nil {
		logger = NullLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Listener == nil {
		cfg.Listener = NullListener{}
	}

	samplesPerMs := int64(cfg.ClockRateHz) / 1000
	capBytes := int(cfg.MaxLength.Milliseconds() * samplesPerMs * int64(cfg.ElementSize+headerSize))

	ring, err := newVirtualRing(capBytes)
	if err != nil {
		return nil, err
	}
	logger.Debugf("jitter buffer allocated, wanted %d bytes, got %d", capBytes, ring.Cap())

	return &JitterBuffer{
		cfg:    cfg,
		logger: logger,
		now:    now,
		ring:   ring,
		idx:    newRingIndices(ring.Cap()),
	}, nil
}

// Close releases the ring's backing virtual memory.
func (b *JitterBuffer) Close() error {
	return b.ring.Close()
}

func (b *JitterBuffer) nowMillis() int64 {
	return b.now().UnixMilli()
}

// GetCurrentDepth reports the buffered element count as playable
// duration at Config.ClockRateHz. The count grows as records are
// published and shrinks only by the elements Dequeue copies out;
// records Dequeue discards as too old or skips while they are being
// updated are not subtracted from it.
func (b *JitterBuffer) GetCurrentDepth() time.Duration {
	elements := b.idx.writtenElements.Load()
	ms := elements * 1000 / int64(b.cfg.ClockRateHz)
	return time.Duration(ms) * time.Millisecond
}

// GetMetrics returns a snapshot of the cumulative counters.
func (b *JitterBuffer) GetMetrics() Metrics {
	return b.metrics.snapshot()
}

// Enqueue writes packets into the buffer in order, synthesizing
// concealment for any gap it detects against the previously enqueued
// sequence number, and feeds the play gate and fill-to-min policy
// once all packets are in. It returns the number of elements written,
// including concealment. Packets at or behind the last written
// sequence number are routed to Update instead of being copied in as
// new records.
func (b *JitterBuffer) Enqueue(packets []Packet, conceal ConcealmentFunc) (int, error) {
	enqueued := 0

	for _, p := range packets {
		if b.hasLastWritten && !isNewer(p.SequenceNumber, b.lastWritten) {
			enqueued += b.update(p)
			continue
		}

		if b.hasLastWritten && p.SequenceNumber > b.lastWritten+1 {
			missing := int(p.SequenceNumber - b.lastWritten - 1)
			concealed := b.generateConcealment(missing, conceal)
			enqueued += concealed
			b.metrics.concealedFrames.Add(uint64(concealed))
		}

		if p.Elements != b.cfg.PacketElements {
			return enqueued, fmt.Errorf("%w: packet has %d elements, want %d", ErrInvalidArgument, p.Elements, b.cfg.PacketElements)
		}

		written := b.copyIntoBuffer(p)
		if written == 0 {
			b.logger.Warnf("enqueue: no space for packet %d, dropping", p.SequenceNumber)
			break
		}
		enqueued += written
		b.lastWritten = p.SequenceNumber
		b.hasLastWritten = true
	}

	if b.play.Load() {
		gapToMin := b.cfg.MinLength - b.GetCurrentDepth()
		if gapToMin > 0 {
			packetDuration := time.Duration(b.cfg.PacketElements) * time.Second / time.Duration(b.cfg.ClockRateHz)
			toConceal := int(math.Ceil(float64(gapToMin) / float64(packetDuration)))
			concealed := b.generateConcealment(toConceal, conceal)
			enqueued += concealed
			// Matches the original's fill-to-min counter, which
			// assigns rather than accumulates.
			b.metrics.filledPackets.Store(uint64(concealed))
		}
	}

	if !b.play.Load() {
		threshold := time.Duration(float64(b.cfg.MinLength) * 1.5)
		if b.GetCurrentDepth() >= threshold {
			b.play.Store(true)
			b.cfg.Listener.OnPlayGateChanged(true)
		}
	}

	return enqueued, nil
}

// Prepare conceals every sequence number between the last written one
// and sequenceNumber (exclusive), without requiring a following real
// packet. Used by callers that
// want to push playout forward across a gap before the gap's far edge
// has actually arrived.
func (b *JitterBuffer) Prepare(sequenceNumber uint32, conceal ConcealmentFunc) int {
	if !b.hasLastWritten || sequenceNumber <= b.lastWritten+1 {
		return 0
	}
	missing := int(sequenceNumber - b.lastWritten - 1)
	concealed := b.generateConcealment(missing, conceal)
	b.metrics.concealedFrames.Add(uint64(concealed))
	return concealed
}

// isNewer reports whether candidate is strictly newer than last under
// plain unsigned comparison. Sequence number rollover is out of scope
// (SPEC_FULL.md §9); this is a direct, non-wrapping comparison.
func isNewer(candidate, last uint32) bool {
	return candidate > last
}

// copyIntoBuffer writes one real packet as a new record, clamping to
// whatever whole-element space remains. Returns the number of
// elements actually written, 0 if there was no room at all.
func (b *JitterBuffer) copyIntoBuffer(p Packet) int {
	space := b.ring.Cap() - int(b.idx.written.Load())
	if space < headerSize {
		return 0
	}
	spaceForPayload := space - headerSize
	toWrite := b.cfg.ElementSize * p.Elements
	if spaceForPayload < toWrite {
		toWrite = spaceForPayload - (spaceForPayload % b.cfg.ElementSize)
	}
	if toWrite <= 0 {
		return 0
	}

	ringBytes := b.ring.Bytes()
	headerOffset := b.idx.writeOffset
	payloadOffset := b.idx.mod(headerOffset + headerSize)
	copy(ringBytes[payloadOffset:payloadOffset+toWrite], p.Data[:toWrite])

	elementsWritten := toWrite / b.cfg.ElementSize
	*headerAt(ringBytes, headerOffset) = header{
		sequenceNumber:   p.SequenceNumber,
		elements:         uint64(elementsWritten),
		timestamp:        uint64(b.nowMillis()),
		previousElements: uint64(b.latestWrittenElements),
	}
	b.latestWrittenElements = elementsWritten

	b.idx.ForwardWrite(headerSize + toWrite)
	b.idx.writtenElements.Add(int64(elementsWritten))
	return elementsWritten
}

// generateConcealment synthesizes up to n concealment records,
// clamped to whatever whole-record space remains, hands their
// zero-copy ring slices to conceal in one call, and publishes them.
// Returns the number of elements actually synthesized.
func (b *JitterBuffer) generateConcealment(n int, conceal ConcealmentFunc) int {
	if n <= 0 {
		return 0
	}

	recordSize := headerSize + b.cfg.PacketElements*b.cfg.ElementSize
	space := b.ring.Cap() - int(b.idx.written.Load())
	fits := space / recordSize
	toConceal := n
	if fits < toConceal {
		toConceal = fits
	}
	if toConceal != n {
		b.logger.Warnf("generateConcealment: only room for %d/%d missing packets", toConceal, n)
	}
	if toConceal <= 0 {
		return 0
	}

	ringBytes := b.ring.Bytes()
	packets := make([]Packet, toConceal)
	previous := b.latestWrittenElements

	for i := 0; i < toConceal; i++ {
		headerOffset := b.idx.writeOffset
		seq := b.lastWritten + uint32(i) + 1
		*headerAt(ringBytes, headerOffset) = header{
			sequenceNumber:   seq,
			concealment:      1,
			elements:         uint64(b.cfg.PacketElements),
			timestamp:        uint64(b.nowMillis()),
			previousElements: uint64(previous),
		}
		previous = b.cfg.PacketElements

		b.idx.writeOffset = b.idx.mod(headerOffset + headerSize)
		length := b.cfg.PacketElements * b.cfg.ElementSize
		payloadOffset := b.idx.writeOffset
		packets[i] = Packet{
			SequenceNumber: seq,
			Data:           ringBytes[payloadOffset : payloadOffset+length],
			Elements:       b.cfg.PacketElements,
		}
		b.idx.writeOffset = b.idx.mod(payloadOffset + length)
	}

	if conceal != nil {
		conceal(packets)
	}

	firstSeq := b.lastWritten + 1

	total := toConceal * recordSize
	b.idx.written.Add(int64(total))
	b.idx.writtenElements.Add(int64(toConceal * b.cfg.PacketElements))
	b.lastWritten += uint32(toConceal)
	b.hasLastWritten = true
	b.latestWrittenElements = previous

	elements := toConceal * b.cfg.PacketElements
	b.cfg.Listener.OnConcealment(firstSeq, elements)
	return elements
}

// update walks backwards from the write cursor through previousElements
// links looking for the record matching packet.SequenceNumber, and if
// found, still a concealment record and not currently being read,
// overwrites its remaining elements with the tail of the caller's
// data. Used when a late real packet arrives for a sequence number
// that was already concealed. Returns the number of elements updated,
// 0 if the record couldn't be found, was busy, was not a concealment
// record, or holds more elements than the packet carries.
func (b *JitterBuffer) update(p Packet) int {
	ringBytes := b.ring.Bytes()

	walkOffset := b.idx.writeOffset
	remaining := int(b.idx.written.Load())

	step := b.latestWrittenElements*b.cfg.ElementSize + headerSize
	if step > remaining {
		b.logger.Warnf("update[%d]: walked past the start of the buffer", p.SequenceNumber)
		b.metrics.updateMissedFrames.Add(uint64(p.Elements))
		return 0
	}
	remaining -= step
	walkOffset = b.idx.mod(walkOffset - step)

	var hdr *header
	for {
		hdr = headerAt(ringBytes, walkOffset)
		if hdr.sequenceNumber == p.SequenceNumber {
			break
		}
		if hdr.tryAcquire() {
			b.logger.Warnf("update[%d]: record %d is in use, stopping walk", p.SequenceNumber, hdr.sequenceNumber)
			return 0
		}
		if hdr.sequenceNumber <= b.dontWalkBeyond.Load() {
			b.logger.Warnf("update[%d]: walked back to unwalkable record %d", p.SequenceNumber, hdr.sequenceNumber)
			hdr.release()
			return 0
		}

		step = int(hdr.previousElements)*b.cfg.ElementSize + headerSize
		if step > remaining {
			b.logger.Warnf("update[%d]: ran out of buffer before finding the target record", p.SequenceNumber)
			hdr.release()
			b.metrics.updateMissedFrames.Add(uint64(p.Elements))
			return 0
		}
		remaining -= step
		walkOffset = b.idx.mod(walkOffset - step)
		hdr.release()
	}

	if hdr.tryAcquire() {
		b.logger.Warnf("update[%d]: target record is currently being read", p.SequenceNumber)
		return 0
	}
	if hdr.concealment == 0 {
		b.logger.Warnf("update[%d]: target record is not a concealment record", p.SequenceNumber)
		hdr.release()
		return 0
	}
	if p.Elements < int(hdr.elements) {
		b.logger.Warnf("update[%d]: packet has %d elements, record holds %d", p.SequenceNumber, p.Elements, hdr.elements)
		hdr.release()
		return 0
	}

	sourceOffsetElements := p.Elements - int(hdr.elements)
	payloadOffset := b.idx.mod(walkOffset + headerSize)
	n := int(hdr.elements) * b.cfg.ElementSize
	sourceOffset := sourceOffsetElements * b.cfg.ElementSize
	copy(ringBytes[payloadOffset:payloadOffset+n], p.Data[sourceOffset:sourceOffset+n])

	hdr.concealment = 0
	updated := int(hdr.elements)
	hdr.release()
	b.metrics.updatedFrames.Add(uint64(updated))
	return updated
}

// Dequeue copies up to elements elements of played-out media into dst,
// skipping concealment records currently being updated, discarding
// records older than Config.MaxLength, and returns fewer elements
// than requested if the buffer runs dry or the play gate hasn't
// opened yet. While the play gate is closed it returns 0, nil without
// looking at dst; once it is open, dst must be at least
// elements*Config.ElementSize bytes or ErrInvalidArgument is returned.
func (b *JitterBuffer) Dequeue(dst []byte, elements int) (int, error) {
	if !b.play.Load() {
		return 0, nil
	}

	requiredBytes := elements * b.cfg.ElementSize
	if len(dst) < requiredBytes {
		return 0, fmt.Errorf("%w: destination has %d bytes, need %d", ErrInvalidArgument, len(dst), requiredBytes)
	}

	ringBytes := b.ring.Bytes()
	dequeuedBytes := 0

	for dequeuedBytes < requiredBytes {
		if int(b.idx.written.Load()) < headerSize {
			break
		}

		recordOffset := b.idx.readOffset
		hdr := headerAt(ringBytes, recordOffset)

		if hdr.concealment != 0 && hdr.tryAcquire() {
			b.logger.Warnf("dequeue[%d]: concealment record is being updated, skipping", hdr.sequenceNumber)
			b.idx.ForwardRead(headerSize + int(hdr.elements)*b.cfg.ElementSize)
			b.metrics.skippedFrames.Add(hdr.elements)
			continue
		}
		// From here on, if hdr.concealment != 0, this goroutine holds
		// hdr's inUse flag and must release it before the record is
		// left behind.

		age := b.nowMillis() - int64(hdr.timestamp)
		if age >= b.cfg.MaxLength.Milliseconds() {
			seq := hdr.sequenceNumber
			discarded := hdr.elements
			if hdr.concealment != 0 {
				hdr.release()
			}
			b.idx.ForwardRead(headerSize + int(discarded)*b.cfg.ElementSize)
			b.metrics.skippedFrames.Add(discarded)
			b.cfg.Listener.OnPacketLoss(seq, int(discarded))
			continue
		}

		if b.cfg.StallOnMinLength && age < b.cfg.MinLength.Milliseconds() {
			if hdr.concealment != 0 {
				hdr.release()
			}
			break
		}

		availableBytes := int(hdr.elements) * b.cfg.ElementSize
		remainingRequired := requiredBytes - dequeuedBytes
		toCopy := availableBytes
		if remainingRequired < toCopy {
			toCopy = remainingRequired
		}

		payloadOffset := b.idx.mod(recordOffset + headerSize)
		copy(dst[dequeuedBytes:dequeuedBytes+toCopy], ringBytes[payloadOffset:payloadOffset+toCopy])
		dequeuedBytes += toCopy

		if toCopy == availableBytes {
			b.idx.ForwardRead(headerSize + toCopy)
			if hdr.concealment != 0 {
				hdr.release()
			}
			continue
		}

		// Partial read: the record survives with fewer elements.
		// Slide its header forward into the space the consumed
		// payload vacated so [header|remaining payload] stays
		// contiguous, and repair the following record's backlink to
		// point at the new, smaller element count.
		seq := hdr.sequenceNumber
		concealment := hdr.concealment
		timestamp := hdr.timestamp
		previousElements := hdr.previousElements
		remainingElements := (availableBytes - toCopy) / b.cfg.ElementSize

		b.idx.ForwardRead(toCopy)
		newOffset := b.idx.readOffset
		*headerAt(ringBytes, newOffset) = header{
			sequenceNumber:   seq,
			concealment:      concealment,
			elements:         uint64(remainingElements),
			timestamp:        timestamp,
			previousElements: previousElements,
		}

		if int(b.idx.written.Load()) >= headerSize*2+remainingElements*b.cfg.ElementSize {
			nextOffset := b.idx.mod(newOffset + headerSize + remainingElements*b.cfg.ElementSize)
			next := headerAt(ringBytes, nextOffset)
			if next.tryAcquire() {
				b.logger.Errorf("dequeue[%d][%d]: can't repair next record's backlink, walks will stop here", seq, next.sequenceNumber)
				b.dontWalkBeyond.Store(next.sequenceNumber)
			} else {
				next.previousElements = uint64(remainingElements)
				next.release()
			}
		}

		break
	}

	dequeuedElements := dequeuedBytes / b.cfg.ElementSize
	b.idx.writtenElements.Add(-int64(dequeuedElements))
	return dequeuedElements, nil
}
