package mbuf

import (
	"sync/atomic"
	"unsafe"

	"github.com/vdp-project/govdp/internal/dperr"
)

// freelist is a bounded MPMC ring of buffer indices, used as the packet
// pool's free list. Unlike the engine<->mux packet rings (internal/dpring)
// and the client interface ring (internal/shmring), which spec.md pins to a
// strict single-producer/single-consumer discipline, the pool's free list is
// touched concurrently from the engine's RX/TX loop, the mux's dispatch
// loop, and any ARP-reply allocation — genuinely multiple producers and
// consumers. It is grounded on the sequence-per-cell CAS ring in
// momentics-hioload-ws's core/concurrency/ring.go, adapted to operate over a
// raw memory-mapped region (so engine and mux, separate OS processes,
// observe the same free list) instead of a Go-heap slice.
type freelist struct {
	region []byte
	mask   uint64
	cap    uint64
}

const (
	flCellSize  = 16 // 8 bytes sequence + 4 bytes value + 4 bytes padding
	flHeaderLen = 128
)

// freelistSize returns the byte length of a freelist region sized to hold at
// least n entries (rounded up to a power of two, matching the power-of-two
// size requirement DPDK's own rte_ring imposes on a mempool's backing ring).
func freelistSize(n uint32) int64 {
	return flHeaderLen + int64(nextPow2(uint64(n)))*flCellSize
}

func nextPow2(n uint64) uint64 {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func newFreelist(region []byte, capHint uint32) *freelist {
	cap := nextPow2(uint64(capHint))
	return &freelist{region: region, mask: cap - 1, cap: cap}
}

func (f *freelist) headPtr() *uint64 { return (*uint64)(unsafe.Pointer(&f.region[0])) }
func (f *freelist) tailPtr() *uint64 { return (*uint64)(unsafe.Pointer(&f.region[64])) }

func (f *freelist) cellSeq(idx uint64) *uint64 {
	off := flHeaderLen + int64(idx)*flCellSize
	return (*uint64)(unsafe.Pointer(&f.region[off]))
}

func (f *freelist) cellVal(idx uint64) *uint32 {
	off := flHeaderLen + int64(idx)*flCellSize + 8
	return (*uint32)(unsafe.Pointer(&f.region[off]))
}

// initEmpty marks every cell's sequence number as if it had just been
// dequeued from an empty ring (sequence == index), the same convention
// NewRingBuffer uses in hioload-ws.
func (f *freelist) initEmpty() {
	for i := uint64(0); i < f.cap; i++ {
		atomic.StoreUint64(f.cellSeq(i), i)
	}
	atomic.StoreUint64(f.headPtr(), 0)
	atomic.StoreUint64(f.tailPtr(), 0)
}

// seed fills the ring with the handle values [0, n), as if freshly produced.
func (f *freelist) seed(n uint32) {
	for i := uint64(0); i < f.cap; i++ {
		if i < uint64(n) {
			atomic.StoreUint64(f.cellSeq(i), i+1)
		} else {
			atomic.StoreUint64(f.cellSeq(i), i)
		}
	}
	for i := uint32(0); i < n; i++ {
		idx := uint64(i) & f.mask
		atomic.StoreUint32(f.cellVal(idx), i)
	}
	atomic.StoreUint64(f.headPtr(), 0)
	atomic.StoreUint64(f.tailPtr(), uint64(n))
}

func (f *freelist) push(v uint32) bool {
	for {
		tail := atomic.LoadUint64(f.tailPtr())
		idx := tail & f.mask
		seq := atomic.LoadUint64(f.cellSeq(idx))
		dif := int64(seq) - int64(tail)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(f.tailPtr(), tail, tail+1) {
				atomic.StoreUint32(f.cellVal(idx), v)
				atomic.StoreUint64(f.cellSeq(idx), tail+1)
				return true
			}
		case dif < 0:
			return false
		}
	}
}

func (f *freelist) pop() (uint32, bool) {
	for {
		head := atomic.LoadUint64(f.headPtr())
		idx := head & f.mask
		seq := atomic.LoadUint64(f.cellSeq(idx))
		dif := int64(seq) - int64(head+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(f.headPtr(), head, head+1) {
				v := atomic.LoadUint32(f.cellVal(idx))
				atomic.StoreUint64(f.cellSeq(idx), head+f.mask+1)
				return v, true
			}
		case dif < 0:
			return 0, false
		}
	}
}

// popBulk pops exactly n values or fails without consuming any, matching
// Mbuf::alloc_bulk's all-or-nothing contract.
func (f *freelist) popBulk(n int) ([]uint32, error) {
	out := make([]uint32, 0, n)
	for len(out) < n {
		v, ok := f.pop()
		if !ok {
			for _, h := range out {
				f.push(h)
			}
			return nil, dperr.ErrNoBuf
		}
		out = append(out, v)
	}
	return out, nil
}
