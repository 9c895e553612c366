package mbuf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdp-project/govdp/internal/dperr"
)

func newTestPool(t *testing.T, n uint32) *Mempool {
	t.Helper()
	name := fmt.Sprintf("test-%s-%d", t.Name(), n)
	p, err := Create(name, n)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

func TestFromBytesRoundTrip(t *testing.T) {
	p := newTestPool(t, 8)

	payload := []byte("hello dataplane")
	m, err := p.FromBytes(payload)
	require.NoError(t, err)

	assert.Equal(t, len(payload), m.DataLen())
	assert.Equal(t, payload, m.Data())
}

func TestExtendShrinkSymmetry(t *testing.T) {
	p := newTestPool(t, 8)

	m, err := p.Alloc()
	require.NoError(t, err)

	require.NoError(t, m.Extend(0, 10))
	assert.Equal(t, 10, m.DataLen())

	_, err = WriteDataSlice(m, 0, []byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, m.Extend(5, 4))
	assert.Equal(t, 14, m.DataLen())

	require.NoError(t, m.Shrink(5, 4))
	assert.Equal(t, 10, m.DataLen())
	assert.Equal(t, []byte("0123456789"), m.Data())
}

func TestResizeDispatch(t *testing.T) {
	p := newTestPool(t, 4)
	m, err := p.Alloc()
	require.NoError(t, err)

	require.NoError(t, m.Resize(0, 20))
	assert.Equal(t, 20, m.DataLen())

	require.NoError(t, m.Resize(0, -5))
	assert.Equal(t, 15, m.DataLen())
}

func TestTruncate(t *testing.T) {
	p := newTestPool(t, 4)
	m, err := p.FromBytes([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, m.Truncate(4))
	assert.Equal(t, []byte("0123"), m.Data())

	err = m.Truncate(100)
	assert.ErrorIs(t, err, dperr.ErrNotResized)
}

func TestReadBoundsChecked(t *testing.T) {
	p := newTestPool(t, 4)
	m, err := p.FromBytes([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	v, err := ReadData[uint16](m, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), v)

	_, err = ReadData[uint32](m, 2)
	assert.ErrorIs(t, err, dperr.ErrOutOfBuffer)

	_, err = ReadData[uint32](m, -1)
	assert.ErrorIs(t, err, dperr.ErrBadOffset)
}

func TestAllocBulkAllOrNothing(t *testing.T) {
	p := newTestPool(t, 4)

	bufs, err := p.AllocBulk(4)
	require.NoError(t, err)
	assert.Len(t, bufs, 4)

	_, err = p.Alloc()
	assert.ErrorIs(t, err, dperr.ErrNoBuf)

	FreeBulk(bufs)

	bufs2, err := p.AllocBulk(4)
	require.NoError(t, err)
	assert.Len(t, bufs2, 4)
}

func TestAllocBulkFailsWithoutPartialConsumption(t *testing.T) {
	p := newTestPool(t, 2)

	_, err := p.AllocBulk(3)
	assert.ErrorIs(t, err, dperr.ErrNoBuf)

	bufs, err := p.AllocBulk(2)
	require.NoError(t, err)
	assert.Len(t, bufs, 2)
}

func TestUseAfterTransferIsRejected(t *testing.T) {
	p := newTestPool(t, 2)
	m, err := p.Alloc()
	require.NoError(t, err)

	_ = m.Handle()

	err = m.Extend(0, 1)
	assert.ErrorIs(t, err, dperr.ErrBadVal)
}
