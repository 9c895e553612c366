// Package mbuf implements the packet buffer pool: a fixed-size,
// fixed-capacity arena of headroom-carrying packet buffers shared between
// the engine and mux processes, named and looked up the way a DPDK memzone
// is, without any dependency on DPDK itself (the kernel-bypass NIC driver
// remains an injected internal/port.Driver collaborator, never linked here).
package mbuf

import (
	"fmt"
	"os"

	"github.com/vdp-project/govdp/internal/dperr"
	"github.com/vdp-project/govdp/internal/shmseg"
)

// Sizing constants, carried over from the original prototype's
// l3enginelib/src/apis/mempool.rs (RX_MBUF_DATA_SIZE, RTE_PKTMBUF_HEADROOM,
// NUM_MBUFS, MBUF_CACHE_SIZE). CacheSize is preserved as a documented sizing
// constant only; this Go translation adds no per-core cache tier. Every
// allocating goroutine (engine poll loops, the mux dispatch loop, per-client
// receive loops) goes straight to the shared lock-free free list.
const (
	DataSize  = 2048
	Headroom  = 128
	NumBuffers = 32767
	CacheSize = 512

	headerLen  = 16
	bufferArea = Headroom + DataSize
	bufStride  = headerLen + bufferArea
)

// BufferStride is one buffer's total footprint (header + headroom + data),
// exported so callers can translate a memory budget into a buffer count
// without duplicating the sizing arithmetic.
const BufferStride = bufStride

// BufferCount derives how many BufferStride-sized buffers fit within budget
// bytes, capped at NumBuffers: a configured memory budget can shrink the
// pool below the original prototype's fixed NUM_MBUFS, but never grow it
// past it.
func BufferCount(budget int64) uint32 {
	n := budget / BufferStride
	if n < 1 {
		n = 1
	}
	if n > NumBuffers {
		n = NumBuffers
	}
	return uint32(n)
}

// Mempool is a named arena of fixed-size packet buffers backed by shared
// memory, so that the engine and mux processes (and, transitively, any
// buffer handle moved through internal/dpring between them) observe the
// exact same backing bytes.
type Mempool struct {
	name string
	seg  *shmseg.Segment
	fl   *freelist
	n    uint32

	slab []byte // view into seg.Data, starting after the free list region
}

func shmPath(name string) string {
	return "/dev/shm/govdp-pool-" + name
}

// Create allocates a new named pool with capacity n buffers. If a pool with
// this name and capacity already exists (e.g. a prior engine run left the
// tmpfs file behind), its contents are reset.
func Create(name string, n uint32) (*Mempool, error) {
	if n == 0 {
		return nil, fmt.Errorf("mbuf: create pool %q: %w", name, dperr.ErrInvalid)
	}

	flSize := freelistSize(n)
	total := flSize + int64(n)*bufStride

	seg, err := shmseg.FromPath(shmPath(name), total)
	if err != nil {
		return nil, fmt.Errorf("mbuf: create pool %q: %w", name, err)
	}

	fl := newFreelist(seg.Data[:flSize], n)
	fl.seed(n)

	p := &Mempool{
		name: name,
		seg:  seg,
		fl:   fl,
		n:    n,
		slab: seg.Data[flSize:],
	}
	return p, nil
}

// Lookup attaches to an existing pool by name and declared capacity. The
// capacity must match what Create used; a mismatch almost always means a
// stale or misconfigured deployment, so it is treated as a fatal-at-startup
// error rather than a dropped frame.
func Lookup(name string, n uint32) (*Mempool, error) {
	if n == 0 {
		return nil, fmt.Errorf("mbuf: lookup pool %q: %w", name, dperr.ErrInvalid)
	}

	flSize := freelistSize(n)
	total := flSize + int64(n)*bufStride

	st, err := os.Stat(shmPath(name))
	if err != nil {
		return nil, fmt.Errorf("mbuf: lookup pool %q: %w", name, err)
	}
	if st.Size() != total {
		return nil, fmt.Errorf("mbuf: lookup pool %q: size %d, expected %d: %w", name, st.Size(), total, dperr.ErrInvalid)
	}

	seg, err := shmseg.FromPath(shmPath(name), total)
	if err != nil {
		return nil, fmt.Errorf("mbuf: lookup pool %q: %w", name, err)
	}

	fl := newFreelist(seg.Data[:flSize], n)

	return &Mempool{
		name: name,
		seg:  seg,
		fl:   fl,
		n:    n,
		slab: seg.Data[flSize:],
	}, nil
}

// Name returns the pool's lookup name.
func (p *Mempool) Name() string { return p.name }

// Close unmaps the pool's shared-memory region. It does not free the
// backing tmpfs file -- the other attached process may still be using it.
func (p *Mempool) Close() error { return p.seg.Close() }

func (p *Mempool) bufOffset(h uint32) int64 { return int64(h) * bufStride }

func (p *Mempool) bufHeader(h uint32) []byte {
	off := p.bufOffset(h)
	return p.slab[off : off+headerLen]
}

func (p *Mempool) bufArea(h uint32) []byte {
	off := p.bufOffset(h) + headerLen
	return p.slab[off : off+bufferArea]
}

// Alloc removes one buffer from the pool's free list.
func (p *Mempool) Alloc() (*Mbuf, error) {
	h, ok := p.fl.pop()
	if !ok {
		return nil, fmt.Errorf("mbuf: alloc from pool %q: %w", p.name, dperr.ErrNoBuf)
	}
	return p.initMbuf(h), nil
}

// AllocBulk removes exactly n buffers, or none at all on failure.
func (p *Mempool) AllocBulk(n int) ([]*Mbuf, error) {
	handles, err := p.fl.popBulk(n)
	if err != nil {
		return nil, fmt.Errorf("mbuf: alloc_bulk(%d) from pool %q: %w", n, p.name, err)
	}
	out := make([]*Mbuf, len(handles))
	for i, h := range handles {
		out[i] = p.initMbuf(h)
	}
	return out, nil
}

// FromBytes allocates a buffer and copies data into it.
func (p *Mempool) FromBytes(data []byte) (*Mbuf, error) {
	m, err := p.Alloc()
	if err != nil {
		return nil, err
	}
	if err := m.Extend(0, len(data)); err != nil {
		m.Release()
		return nil, err
	}
	if _, err := WriteDataSlice(m, 0, data); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

func (p *Mempool) initMbuf(h uint32) *Mbuf {
	hdr := p.bufHeader(h)
	putU32(hdr[0:4], Headroom) // dataOff
	putU32(hdr[4:8], 0)        // dataLen
	putU32(hdr[8:12], 0)       // pktLen
	putU32(hdr[12:16], bufferArea)
	return &Mbuf{pool: p, handle: h}
}

func (p *Mempool) free(h uint32) {
	p.fl.push(h)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
