// Package shmring implements the SPSC byte-slot ring buffer used by the
// client interface region (spec.md §4.7/§4.8, `RingBuf<[u8; MTU]>` in the
// original prototype's ipc-queue crate).
//
// The original's push/pop publish the write/read index *before* writing the
// slot payload -- a known hazard spec.md's design notes (§9) call out and
// explicitly ask to be fixed while keeping the external contract: "preserve
// the external contract; do not preserve the ordering bug." This
// implementation writes the slot first and only then stores the index under
// a release ordering, so a consumer observing the new index under an
// acquire load is guaranteed to see a fully written slot.
package shmring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/vdp-project/govdp/internal/dperr"
)

// MTU is the fixed slot payload capacity, matching the original's MTU
// constant (memenpsf/src/lib.rs).
const MTU = 1536

const (
	headerLen   = 128 // two cache lines: write index, read index
	lenPrefix   = 2
	slotPayload = MTU - lenPrefix
)

// RegionSize returns the number of bytes a RingBuf of the given capacity
// occupies, including its header.
func RegionSize(capacity int) int64 {
	return headerLen + int64(capacity)*MTU
}

// RingBuf is a single-producer/single-consumer ring of MTU-sized frame
// slots, built directly over a caller-supplied memory-mapped region so two
// processes mapping the same region observe the same queue.
type RingBuf struct {
	region   []byte
	capacity uint32
}

// New wraps region (of length RegionSize(capacity)) as a RingBuf. init
// resets the write/read indices; pass false when attaching to a ring a peer
// has already initialized.
func New(region []byte, capacity int, init bool) *RingBuf {
	r := &RingBuf{region: region, capacity: uint32(capacity)}
	if init {
		atomic.StoreUint32(r.writePtr(), 0)
		atomic.StoreUint32(r.readPtr(), 0)
	}
	return r
}

func (r *RingBuf) writePtr() *uint32 { return (*uint32)(unsafe.Pointer(&r.region[0])) }
func (r *RingBuf) readPtr() *uint32  { return (*uint32)(unsafe.Pointer(&r.region[64])) }

func (r *RingBuf) slot(i uint32) []byte {
	off := headerLen + int64(i)*MTU
	return r.region[off : off+MTU]
}

// Indices returns the current (write, read) pair, used to populate the
// side-channel notification spec.md §4.7 describes.
func (r *RingBuf) Indices() (write, read uint32) {
	return atomic.LoadUint32(r.writePtr()), atomic.LoadUint32(r.readPtr())
}

// Push enqueues one frame. It fails with dperr.ErrNoSpace if the ring is
// full (usable depth is capacity-1, one slot reserved to disambiguate empty
// from full) and with dperr.ErrInvalid if payload does not fit in a slot.
func (r *RingBuf) Push(payload []byte) error {
	if len(payload) > slotPayload {
		return fmt.Errorf("shmring: push %d bytes > slot capacity %d: %w", len(payload), slotPayload, dperr.ErrInvalid)
	}

	write := atomic.LoadUint32(r.writePtr())
	next := (write + 1) % r.capacity
	if next == atomic.LoadUint32(r.readPtr()) {
		return fmt.Errorf("shmring: push: %w", dperr.ErrNoSpace)
	}

	slot := r.slot(write)
	binary.LittleEndian.PutUint16(slot[:lenPrefix], uint16(len(payload)))
	copy(slot[lenPrefix:], payload)

	atomic.StoreUint32(r.writePtr(), next)
	return nil
}

// Pop dequeues one frame, copying it out of shared memory so the caller's
// slice remains valid after the producer reuses the slot.
func (r *RingBuf) Pop() ([]byte, error) {
	read := atomic.LoadUint32(r.readPtr())
	if read == atomic.LoadUint32(r.writePtr()) {
		return nil, fmt.Errorf("shmring: pop: %w", dperr.ErrNoEntries)
	}

	slot := r.slot(read)
	n := binary.LittleEndian.Uint16(slot[:lenPrefix])
	out := make([]byte, n)
	copy(out, slot[lenPrefix:lenPrefix+int(n)])

	atomic.StoreUint32(r.readPtr(), (read+1)%r.capacity)
	return out, nil
}
