package mbuf

import (
	"fmt"
	"unsafe"

	"github.com/vdp-project/govdp/internal/dperr"
)

// Handle identifies a buffer within a pool. It is the value actually moved
// through internal/dpring between engine and mux -- a plain integer index,
// never a pointer, since a pointer from one process's address space is
// meaningless in another's.
type Handle = uint32

// Mbuf is a packet buffer leased from a Mempool. Ownership is exclusive:
// exactly one of the engine's RX/TX loop, the inter-process ring, and the
// mux's dispatch loop holds a given Mbuf at any time. Go has no linear
// types, so this is enforced by convention plus the moved flag below rather
// than by the compiler; Release and Handle() both consume that obligation.
type Mbuf struct {
	pool   *Mempool
	handle Handle
	moved  bool
}

// Pool returns the pool this buffer was allocated from.
func (m *Mbuf) Pool() *Mempool { return m.pool }

// Handle returns the buffer's pool-local index and marks it moved: the
// caller is transferring ownership (typically by enqueuing the handle onto
// a dpring.Ring) and must not touch m again.
func (m *Mbuf) Handle() Handle {
	m.moved = true
	return m.handle
}

// FromHandle reconstructs an Mbuf from a handle received from a peer
// process via the same pool. The caller becomes the new owner.
func FromHandle(p *Mempool, h Handle) *Mbuf {
	return &Mbuf{pool: p, handle: h}
}

func (m *Mbuf) checkLive() error {
	if m.moved {
		return fmt.Errorf("mbuf: use after transfer: %w", dperr.ErrBadVal)
	}
	return nil
}

func (m *Mbuf) header() []byte { return m.pool.bufHeader(m.handle) }

// DataOffset returns the current start of packet data within the buffer
// area (headroom + any bytes already consumed by header pops).
func (m *Mbuf) DataOffset() int { return int(getU32(m.header()[0:4])) }

// DataLen returns the number of valid data bytes.
func (m *Mbuf) DataLen() int { return int(getU32(m.header()[4:8])) }

// PktLen returns the total packet length. This implementation never chains
// buffer segments, so PktLen always equals DataLen.
func (m *Mbuf) PktLen() int { return int(getU32(m.header()[8:12])) }

func (m *Mbuf) capacity() int { return int(getU32(m.header()[12:16])) }

// Tailroom returns how many bytes may still be appended via Extend.
func (m *Mbuf) Tailroom() int {
	return m.capacity() - m.DataOffset() - m.DataLen()
}

func (m *Mbuf) setDataLen(v int) {
	hdr := m.header()
	putU32(hdr[4:8], uint32(v))
	putU32(hdr[8:12], uint32(v))
}

// Data returns the current packet bytes as a slice aliasing the pool's
// shared-memory region. It is valid only until the next Extend, Shrink,
// Resize, Truncate, or Release call on m.
func (m *Mbuf) Data() []byte {
	off := m.DataOffset()
	n := m.DataLen()
	return m.pool.bufArea(m.handle)[off : off+n]
}

// Extend grows the data region by length bytes, shifting existing bytes at
// and after offset toward the tail. It mirrors Mbuf::extend in the original
// prototype: offset must fall within the current data and length must fit
// in the remaining tailroom.
func (m *Mbuf) Extend(offset, length int) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	dataLen := m.DataLen()
	if length <= 0 || offset > dataLen || length > m.Tailroom() {
		return fmt.Errorf("mbuf: extend(offset=%d, length=%d): %w", offset, length, dperr.ErrNotResized)
	}

	area := m.pool.bufArea(m.handle)
	base := m.DataOffset()
	copy(area[base+offset+length:base+dataLen+length], area[base+offset:base+dataLen])
	m.setDataLen(dataLen + length)
	return nil
}

// Shrink removes length bytes starting at offset, closing the gap by
// shifting the remaining tail bytes forward.
func (m *Mbuf) Shrink(offset, length int) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	dataLen := m.DataLen()
	if length <= 0 || offset+length > dataLen {
		return fmt.Errorf("mbuf: shrink(offset=%d, length=%d): %w", offset, length, dperr.ErrNotResized)
	}

	area := m.pool.bufArea(m.handle)
	base := m.DataOffset()
	copy(area[base+offset:base+dataLen-length], area[base+offset+length:base+dataLen])
	m.setDataLen(dataLen - length)
	return nil
}

// Resize dispatches to Extend or Shrink depending on the sign of delta.
func (m *Mbuf) Resize(offset int, delta int) error {
	if delta >= 0 {
		return m.Extend(offset, delta)
	}
	return m.Shrink(offset, -delta)
}

// Truncate cuts the data region to newLen, which must not exceed the
// current DataLen.
func (m *Mbuf) Truncate(newLen int) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if newLen < 0 || newLen > m.DataLen() {
		return fmt.Errorf("mbuf: truncate(%d): %w", newLen, dperr.ErrNotResized)
	}
	m.setDataLen(newLen)
	return nil
}

// Release returns the buffer to its pool. m must not be used afterward.
func (m *Mbuf) Release() {
	if m.moved {
		return
	}
	m.moved = true
	m.pool.free(m.handle)
}

// Sized enumerates the fixed-width types ReadData/WriteDataSlice may
// operate on -- the same small, closed set of header-field widths
// (byte, u16, u32/IPv4 address, MAC address, IPv6 address) the original
// prototype's SizeOf trait covered.
type Sized interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | [2]byte | [4]byte | [6]byte | [16]byte
}

func sizeOf[T Sized]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

// ReadData reads a single value of type T at offset within the current data
// region.
func ReadData[T Sized](m *Mbuf, offset int) (T, error) {
	var zero T
	if err := m.checkLive(); err != nil {
		return zero, err
	}
	if offset < 0 {
		return zero, fmt.Errorf("mbuf: read_data offset=%d: %w", offset, dperr.ErrBadOffset)
	}
	size := sizeOf[T]()
	if offset+size > m.DataLen() {
		return zero, fmt.Errorf("mbuf: read_data offset=%d size=%d: %w", offset, size, dperr.ErrOutOfBuffer)
	}
	base := m.DataOffset()
	area := m.pool.bufArea(m.handle)
	return *(*T)(unsafe.Pointer(&area[base+offset])), nil
}

// ReadDataSlice reads count contiguous values of type T at offset, returning
// a slice that aliases the pool's shared-memory region.
func ReadDataSlice[T Sized](m *Mbuf, offset, count int) ([]T, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	if offset < 0 || count < 0 {
		return nil, fmt.Errorf("mbuf: read_data_slice offset=%d count=%d: %w", offset, count, dperr.ErrBadOffset)
	}
	size := sizeOf[T]()
	if offset+count*size > m.DataLen() {
		return nil, fmt.Errorf("mbuf: read_data_slice offset=%d count=%d: %w", offset, count, dperr.ErrOutOfBuffer)
	}
	base := m.DataOffset()
	area := m.pool.bufArea(m.handle)
	if count == 0 {
		return nil, nil
	}
	ptr := (*T)(unsafe.Pointer(&area[base+offset]))
	return unsafe.Slice(ptr, count), nil
}

// WriteDataSlice writes data into the current data region starting at
// offset and returns a slice aliasing the written bytes, mirroring the
// original's convention of returning the same pointer read_data_slice would.
func WriteDataSlice[T Sized](m *Mbuf, offset int, data []T) ([]T, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("mbuf: write_data_slice offset=%d: %w", offset, dperr.ErrBadOffset)
	}
	size := sizeOf[T]()
	if offset+len(data)*size > m.DataLen() {
		return nil, fmt.Errorf("mbuf: write_data_slice offset=%d count=%d: %w", offset, len(data), dperr.ErrOutOfBuffer)
	}
	base := m.DataOffset()
	area := m.pool.bufArea(m.handle)
	if len(data) == 0 {
		return nil, nil
	}
	dst := unsafe.Slice((*T)(unsafe.Pointer(&area[base+offset])), len(data))
	copy(dst, data)
	return dst, nil
}

// FreeBulk releases a batch of buffers, grouping consecutive handles from
// the same pool into one flush per group -- the same grouping
// Mbuf::free_bulk/mbuf_free_bulk performs in the original prototype. Within
// a flush each handle is still pushed onto the free list individually.
func FreeBulk(bufs []*Mbuf) {
	var (
		curPool *Mempool
		group   []Handle
	)
	flush := func() {
		if curPool == nil || len(group) == 0 {
			return
		}
		for _, h := range group {
			curPool.free(h)
		}
		group = group[:0]
	}

	for _, m := range bufs {
		if m == nil || m.moved {
			continue
		}
		if m.pool != curPool {
			flush()
			curPool = m.pool
		}
		group = append(group, m.handle)
		m.moved = true
	}
	flush()
}
