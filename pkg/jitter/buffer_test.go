package jitter

import (
	"errors"
	"testing"
	"time"

	"github.com/huandu/go-assert"
)

// fakeClock gives tests control over the timestamps JitterBuffer
// stamps records with and ages them against.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time       { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// smallConfig is a 1kHz, 4-byte-element buffer: each element is 1ms,
// each packet is 5 elements (5ms), cheap enough to exercise in tests.
func smallConfig(clock *fakeClock) Config {
	return Config{
		ElementSize:    4,
		PacketElements: 5,
		ClockRateHz:    1000,
		MaxLength:      500 * time.Millisecond,
		MinLength:      20 * time.Millisecond,
		Now:            clock.Now,
	}
}

func fillPacket(seq uint32, elements, elementSize int, fill byte) Packet {
	data := make([]byte, elements*elementSize)
	for i := range data {
		data[i] = fill
	}
	return Packet{SequenceNumber: seq, Data: data, Elements: elements}
}

func noConceal(packets []Packet) {
	for i := range packets {
		for j := range packets[i].Data {
			packets[i].Data[j] = 0xCC
		}
	}
}

func concealWith(fill byte) ConcealmentFunc {
	return func(packets []Packet) {
		for i := range packets {
			for j := range packets[i].Data {
				packets[i].Data[j] = fill
			}
		}
	}
}

func Test_Enqueue_opens_play_gate_at_one_point_five_times_min_length(t *testing.T) {
	clock := newFakeClock()
	b, err := New(smallConfig(clock), nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	// MinLength is 20ms = 20 elements; the gate opens at 30 elements,
	// i.e. 6 packets of 5 elements each.
	for i := uint32(1); i <= 5; i++ {
		n, err := b.Enqueue([]Packet{fillPacket(i, 5, 4, byte(i))}, noConceal)
		assert.Equal(t, err, nil)
		assert.Equal(t, n, 5)
	}

	dst := make([]byte, 4)
	n, err := b.Dequeue(dst, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 0) // gate still closed

	n, err = b.Enqueue([]Packet{fillPacket(6, 5, 4, 6)}, noConceal)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 5)

	n, err = b.Dequeue(dst, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 1) // gate now open
	assert.Equal(t, dst[0], byte(1))
}

func Test_Enqueue_fills_gap_with_concealment(t *testing.T) {
	clock := newFakeClock()
	b, err := New(smallConfig(clock), nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	n, err := b.Enqueue([]Packet{fillPacket(1, 5, 4, 1)}, noConceal)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 5)

	// Sequence 3 arrives with sequence 2 missing, conceal fills the gap first.
	n, err = b.Enqueue([]Packet{fillPacket(3, 5, 4, 3)}, noConceal)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 10) // 5 concealed + 5 real

	m := b.GetMetrics()
	assert.Equal(t, m.ConcealedFrames, uint64(5))
}

func Test_Update_patches_a_concealed_record(t *testing.T) {
	clock := newFakeClock()
	b, err := New(smallConfig(clock), nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	_, err = b.Enqueue([]Packet{fillPacket(1, 5, 4, 1)}, noConceal)
	assert.Equal(t, err, nil)
	_, err = b.Enqueue([]Packet{fillPacket(3, 5, 4, 3)}, noConceal)
	assert.Equal(t, err, nil)

	// Late arrival of the concealed sequence 2 should patch in place.
	late := fillPacket(2, 5, 4, 0xAB)
	n, err := b.Enqueue([]Packet{late}, noConceal)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 5)

	m := b.GetMetrics()
	assert.Equal(t, m.UpdatedFrames, uint64(5))
}

func Test_Dequeue_rejects_undersized_destination(t *testing.T) {
	clock := newFakeClock()
	cfg := smallConfig(clock)
	cfg.MinLength = 0
	b, err := New(cfg, nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	// Dequeue only checks dst once the play gate is open; with
	// min_length 0 the first Enqueue opens it.
	_, err = b.Enqueue([]Packet{fillPacket(1, 5, 4, 1)}, noConceal)
	assert.Equal(t, err, nil)

	dst := make([]byte, 1)
	_, err = b.Dequeue(dst, 5)
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}

func Test_Dequeue_discards_records_older_than_max_length(t *testing.T) {
	clock := newFakeClock()
	cfg := smallConfig(clock)
	cfg.MaxLength = 50 * time.Millisecond
	b, err := New(cfg, nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	for i := uint32(1); i <= 6; i++ {
		_, err := b.Enqueue([]Packet{fillPacket(i, 5, 4, byte(i))}, noConceal)
		assert.Equal(t, err, nil)
	}

	clock.Advance(100 * time.Millisecond)

	dst := make([]byte, 20)
	n, err := b.Dequeue(dst, 5)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 0)

	m := b.GetMetrics()
	assert.Equal(t, m.SkippedFrames > 0, true)
}

func Test_Enqueue_rejects_wrong_sized_packet(t *testing.T) {
	clock := newFakeClock()
	b, err := New(smallConfig(clock), nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	_, err = b.Enqueue([]Packet{fillPacket(1, 3, 4, 1)}, noConceal)
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}

func Test_New_rejects_invalid_config(t *testing.T) {
	clock := newFakeClock()

	cfg := smallConfig(clock)
	cfg.ElementSize = 0
	_, err := New(cfg, nil)
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)

	cfg = smallConfig(clock)
	cfg.MaxLength = 0
	_, err = New(cfg, nil)
	assert.Equal(t, errors.Is(err, ErrInvalidArgument), true)
}

type countingListener struct {
	loss       int
	gateOpened int
	concealed  int
}

func (c *countingListener) OnPacketLoss(uint32, int)     { c.loss++ }
func (c *countingListener) OnPlayGateChanged(open bool) {
	if open {
		c.gateOpened++
	}
}
func (c *countingListener) OnConcealment(uint32, int) { c.concealed++ }

func Test_Listener_receives_notifications(t *testing.T) {
	clock := newFakeClock()
	cfg := smallConfig(clock)
	cfg.MaxLength = 50 * time.Millisecond
	listener := &countingListener{}
	cfg.Listener = listener

	b, err := New(cfg, nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	for i := uint32(1); i <= 6; i++ {
		_, err := b.Enqueue([]Packet{fillPacket(i, 5, 4, byte(i))}, noConceal)
		assert.Equal(t, err, nil)
	}
	assert.Equal(t, listener.gateOpened, 1)

	clock.Advance(100 * time.Millisecond)
	dst := make([]byte, 20)
	_, err = b.Dequeue(dst, 5)
	assert.Equal(t, err, nil)
	assert.Equal(t, listener.loss > 0, true)
}

func Test_New_allows_zero_min_length(t *testing.T) {
	clock := newFakeClock()
	cfg := smallConfig(clock)
	cfg.MinLength = 0
	b, err := New(cfg, nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	// With min_length 0 the gate threshold is 0, so it latches on the
	// very first Enqueue regardless of how little is buffered.
	n, err := b.Enqueue([]Packet{fillPacket(1, 5, 4, 1)}, noConceal)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 5)

	dst := make([]byte, 4)
	n, err = b.Dequeue(dst, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 1)
	assert.Equal(t, dst[0], byte(1))
}

func Test_Dequeue_partial_read_crosses_record_boundary(t *testing.T) {
	clock := newFakeClock()
	cfg := smallConfig(clock)
	cfg.MinLength = 0
	b, err := New(cfg, nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	_, err = b.Enqueue([]Packet{fillPacket(1, 5, 4, 1)}, noConceal)
	assert.Equal(t, err, nil)
	_, err = b.Enqueue([]Packet{fillPacket(2, 5, 4, 2)}, noConceal)
	assert.Equal(t, err, nil)

	// Ask for 8 of the 10 buffered elements: all 5 of record 1, plus
	// the first 3 of record 2. The second record's header must be
	// relocated forward past the 3 consumed elements so the next read
	// lands on a correctly aligned record boundary.
	dst := make([]byte, 32)
	n, err := b.Dequeue(dst, 8)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 8)
	assert.Equal(t, dst[0], byte(1))
	assert.Equal(t, dst[19], byte(1))
	assert.Equal(t, dst[20], byte(2))
	assert.Equal(t, dst[31], byte(2))

	// The remaining 2 elements of record 2 must still be readable from
	// the relocated header.
	dst2 := make([]byte, 8)
	n, err = b.Dequeue(dst2, 2)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 2)
	assert.Equal(t, dst2[0], byte(2))
	assert.Equal(t, dst2[7], byte(2))
}

func Test_Update_tail_copies_into_a_partially_consumed_concealment_record(t *testing.T) {
	clock := newFakeClock()
	cfg := smallConfig(clock)
	cfg.MinLength = 0
	b, err := New(cfg, nil)
	assert.Equal(t, err, nil)
	defer b.Close()

	_, err = b.Enqueue([]Packet{fillPacket(1, 5, 4, 1)}, noConceal)
	assert.Equal(t, err, nil)

	// Sequence 3 arrives, conceals sequence 2 (5 elements, fill 0xAB).
	_, err = b.Enqueue([]Packet{fillPacket(3, 5, 4, 3)}, concealWith(0xAB))
	assert.Equal(t, err, nil)

	// Drain record 1 whole, then partially consume 2 of the
	// concealment record's 5 elements, leaving 3 behind.
	dst := make([]byte, 28)
	n, err := b.Dequeue(dst, 7)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 7)

	// The late, full-sized packet for sequence 2 now patches a
	// concealment record holding only 3 elements. header.elements (3)
	// is less than packet.Elements (5), so Update must tail-copy: the
	// last 3 elements of the incoming packet land in the remaining
	// slot, not the first 3.
	late := fillPacket(2, 5, 4, 0xCD)
	n, err = b.Enqueue([]Packet{late}, noConceal)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 3)

	m := b.GetMetrics()
	assert.Equal(t, m.UpdatedFrames, uint64(3))

	dst2 := make([]byte, 32)
	n, err = b.Dequeue(dst2, 8)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 8)
	assert.Equal(t, dst2[0], byte(0xCD))
	assert.Equal(t, dst2[11], byte(0xCD))
	assert.Equal(t, dst2[12], byte(3))
}
