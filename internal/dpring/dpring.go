// Package dpring implements the bounded lockless packet-handle ring shared
// between the engine and mux processes, and the Channel pairing two such
// rings (P2E, E2P) into the engine<->mux transport. It is grounded on
// l3enginelib/src/apis/memring.rs in the original prototype (which itself
// wraps a DPDK rte_ring configured RING_F_SP_ENQ|RING_F_SC_DEQ), reimplemented
// directly over a shared-memory region instead of linking DPDK.
//
// Each ring here is strictly single-producer/single-consumer, matching
// spec.md's "configured single-producer on enqueue and single-consumer on
// dequeue" invariant. A future multi-core consumer would need to switch this
// to an MPSC discipline; nothing in this system does, so that generalization
// is deliberately not built (see SPEC_FULL.md Open Questions).
package dpring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/vdp-project/govdp/internal/shmseg"
)

// Capacity is the fixed slot count of every inter-process ring (spec.md §3
// "Inter-process ring ... Capacity 512").
const Capacity = 512

const ringHeaderLen = 128 // two cache lines: write index, read index

// Ring is a single-producer/single-consumer bounded queue of packet handles
// (Mempool buffer indices) backed by a shared-memory region.
type Ring struct {
	region []byte // ringHeaderLen + Capacity*4 bytes
}

func ringRegionSize() int64 { return ringHeaderLen + int64(Capacity)*4 }

func newRing(region []byte) *Ring { return &Ring{region: region} }

func (r *Ring) writePtr() *uint32 { return (*uint32)(unsafe.Pointer(&r.region[0])) }
func (r *Ring) readPtr() *uint32  { return (*uint32)(unsafe.Pointer(&r.region[64])) }

func (r *Ring) slot(i uint32) *uint32 {
	off := ringHeaderLen + int64(i)*4
	return (*uint32)(unsafe.Pointer(&r.region[off]))
}

func (r *Ring) reset() {
	atomic.StoreUint32(r.writePtr(), 0)
	atomic.StoreUint32(r.readPtr(), 0)
}

// Enqueue pushes one handle. It fails without side effects if the ring is
// full. Ordering is the corrected one spec.md's Open Questions call for: the
// slot is written before the write index is published under a release
// store, so a consumer that observes the new write index under an acquire
// load is guaranteed to see the slot's final contents.
func (r *Ring) Enqueue(h uint32) bool {
	write := atomic.LoadUint32(r.writePtr())
	next := (write + 1) % Capacity
	if next == atomic.LoadUint32(r.readPtr()) {
		return false // full: one slot reserved to disambiguate full from empty
	}
	atomic.StoreUint32(r.slot(write), h)
	atomic.StoreUint32(r.writePtr(), next)
	return true
}

// Dequeue pops one handle, or reports the ring empty.
func (r *Ring) Dequeue() (uint32, bool) {
	read := atomic.LoadUint32(r.readPtr())
	if read == atomic.LoadUint32(r.writePtr()) {
		return 0, false
	}
	h := atomic.LoadUint32(r.slot(read))
	atomic.StoreUint32(r.readPtr(), (read+1)%Capacity)
	return h, true
}

// EnqueueBulk pushes as many of handles as fit, in order, stopping at the
// first failure, and returns how many were accepted.
func (r *Ring) EnqueueBulk(handles []uint32) int {
	for i, h := range handles {
		if !r.Enqueue(h) {
			return i
		}
	}
	return len(handles)
}

// DequeueBurst pops up to max handles.
func (r *Ring) DequeueBurst(max int) []uint32 {
	out := make([]uint32, 0, max)
	for len(out) < max {
		h, ok := r.Dequeue()
		if !ok {
			break
		}
		out = append(out, h)
	}
	return out
}

// Channel pairs the two named rings of spec.md §3 into the full engine<->mux
// transport: P2E carries handles mux hands to engine for transmission, E2P
// carries handles engine hands to mux after receiving them off the wire.
type Channel struct {
	seg *shmseg.Segment
	p2e *Ring
	e2p *Ring
}

func channelPath(name string) string { return "/dev/shm/govdp-chan-" + name }

// Create allocates a fresh named channel. Called once, by the engine, at
// startup.
func Create(name string) (*Channel, error) {
	size := 2 * ringRegionSize()
	seg, err := shmseg.FromPath(channelPath(name), size)
	if err != nil {
		return nil, fmt.Errorf("dpring: create channel %q: %w", name, err)
	}
	half := ringRegionSize()
	p2e := newRing(seg.Data[:half])
	e2p := newRing(seg.Data[half:])
	p2e.reset()
	e2p.reset()
	return &Channel{seg: seg, p2e: p2e, e2p: e2p}, nil
}

// Lookup attaches to an existing named channel. Called by mux, after the
// engine has created it.
func Lookup(name string) (*Channel, error) {
	size := 2 * ringRegionSize()
	seg, err := shmseg.FromPath(channelPath(name), size)
	if err != nil {
		return nil, fmt.Errorf("dpring: lookup channel %q: %w", name, err)
	}
	half := ringRegionSize()
	return &Channel{seg: seg, p2e: newRing(seg.Data[:half]), e2p: newRing(seg.Data[half:])}, nil
}

// Close unmaps the channel's shared-memory region.
func (c *Channel) Close() error { return c.seg.Close() }

// MuxSendToEngine is called by mux to hand one packet handle to the engine
// for transmission.
func (c *Channel) MuxSendToEngine(h uint32) bool { return c.p2e.Enqueue(h) }

// MuxSendToEngineBulk is the bulk form of MuxSendToEngine.
func (c *Channel) MuxSendToEngineBulk(hs []uint32) int { return c.p2e.EnqueueBulk(hs) }

// EngineRecvFromMux is called by the engine to pull one handle mux wants
// transmitted.
func (c *Channel) EngineRecvFromMux() (uint32, bool) { return c.p2e.Dequeue() }

// EngineRecvFromMuxBurst is the bulk form of EngineRecvFromMux.
func (c *Channel) EngineRecvFromMuxBurst(max int) []uint32 { return c.p2e.DequeueBurst(max) }

// EngineSendToMux is called by the engine to forward one received packet to
// mux for classification.
func (c *Channel) EngineSendToMux(h uint32) bool { return c.e2p.Enqueue(h) }

// EngineSendToMuxBulk is the bulk form of EngineSendToMux.
func (c *Channel) EngineSendToMuxBulk(hs []uint32) int { return c.e2p.EnqueueBulk(hs) }

// MuxRecvFromEngine is called by mux to pull one handle the engine received
// off the wire.
func (c *Channel) MuxRecvFromEngine() (uint32, bool) { return c.e2p.Dequeue() }

// MuxRecvFromEngineBurst is the bulk form of MuxRecvFromEngine.
func (c *Channel) MuxRecvFromEngineBurst(max int) []uint32 { return c.e2p.DequeueBurst(max) }
