package port

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vdp-project/govdp/internal/mbuf"
)

func newLoopbackPool(t *testing.T) *mbuf.Mempool {
	t.Helper()
	name := fmt.Sprintf("loopbacktest-%d", rand.Int63())
	pool, err := mbuf.Create(name, 16)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestLoopbackDriverEchoesTransmittedFrames(t *testing.T) {
	pool := newLoopbackPool(t)
	d := NewLoopbackDriver()

	m, err := pool.FromBytes([]byte("hello wire"))
	require.NoError(t, err)

	sent, err := d.TxBurst(0, []*mbuf.Mbuf{m})
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	out := make([]*mbuf.Mbuf, 4)
	n, err := d.RxBurst(0, pool, out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "hello wire", string(out[0].Data()))
}

func TestLoopbackDriverRxEmptyWhenIdle(t *testing.T) {
	pool := newLoopbackPool(t)
	d := NewLoopbackDriver()

	out := make([]*mbuf.Mbuf, 4)
	n, err := d.RxBurst(0, pool, out)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
